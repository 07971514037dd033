package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's full configuration, loaded from a YAML file. The
// CLI flags select the file and the logging options only; no Config field
// has a flag override.
type Config struct {
	// Hostname identifies this node when partitioning discovered volumes
	// and indexing ClusterState/NodeState.
	Hostname string `yaml:"hostname"`

	// MountRoot is where locally manifest datasets get mounted, one
	// directory per dataset ID.
	MountRoot string `yaml:"mount_root"`

	// Provider selects the block device backend. Only "loopback" is
	// built in.
	Provider string `yaml:"provider"`

	// RootPath is the loopback provider's backing-file directory.
	RootPath string `yaml:"root_path"`

	// DataDir holds the local BoltDB state cache.
	DataDir string `yaml:"data_dir"`

	// TickInterval is the period between convergence ticks.
	TickInterval time.Duration `yaml:"tick_interval"`

	// ConfigurationFile points to the YAML file describing the desired
	// Manifestations (what this node should converge its datasets
	// toward). It is distinct from this Config file.
	ConfigurationFile string `yaml:"configuration_file"`

	// MetricsAddr is where /metrics and /healthz are served, empty to
	// disable.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns a Config with every field set to a usable default.
func DefaultConfig() *Config {
	return &Config{
		Hostname:     hostnameOrFallback(),
		MountRoot:    "/flocker",
		Provider:     "loopback",
		RootPath:     "/var/lib/blockagent/volumes",
		DataDir:      "/var/lib/blockagent",
		TickInterval: 10 * time.Second,
		MetricsAddr:  "127.0.0.1:9090",
	}
}

func hostnameOrFallback() string {
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// LoadConfig reads and parses a YAML config file, applying it on top of
// DefaultConfig so unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("config %s: hostname must not be empty", path)
	}
	return cfg, nil
}
