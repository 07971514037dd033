package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/cuemby/blockagent/pkg/agent"
	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/discovery"
	"github.com/cuemby/blockagent/pkg/log"
	"github.com/cuemby/blockagent/pkg/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "blockagent",
	Short:   "Per-node block device dataset convergence agent",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("blockagent version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "/etc/blockagent/config.yaml", "Path to the agent config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	volumesCmd.AddCommand(volumesListCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(convergeCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(volumesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func loadConfig(cmd *cobra.Command) (*agent.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return agent.LoadConfig(configPath)
}

func loadAgent(cmd *cobra.Command) (*agent.Agent, *agent.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	a, err := agent.New(cfg)
	return a, cfg, err
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the convergence loop and serve /healthz and /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := loadAgent(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if cfg.MetricsAddr != "" {
			go serveMetrics(cfg.MetricsAddr)
		}

		a.Start(ctx)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		a.Stop()
		return nil
	},
}

func serveMetrics(addr string) {
	metrics.SetVersion(Version)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
	}
}

var convergeCmd = &cobra.Command{
	Use:   "converge",
	Short: "Run one discover-plan-execute tick and print the plan outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := loadAgent(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.Tick(context.Background())
		if plan != nil {
			fmt.Printf("plan: %s\n", plan.Describe())
		}
		if err != nil {
			return fmt.Errorf("tick failed: %w", err)
		}
		fmt.Println("converged successfully")
		return nil
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run discovery only and print the observed node state",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		providerForDiscover, err := agent.NewProvider(cfg)
		if err != nil {
			return err
		}
		d := deployer.New(cfg.Hostname, providerForDiscover, cfg.MountRoot)

		nodeState, nonManifest, err := discovery.DiscoverState(context.Background(), d)
		if err != nil {
			return fmt.Errorf("discover state: %w", err)
		}

		if asJSON {
			out, err := json.MarshalIndent(struct {
				NodeState   interface{} `json:"node_state"`
				NonManifest interface{} `json:"non_manifest_datasets"`
			}{nodeState, nonManifest}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("%-38s %-12s %s\n", "DATASET", "SIZE", "MOUNTPOINT")
		for id, m := range nodeState.Manifestations {
			fmt.Printf("%-38s %-12s %s\n", id, units.BytesSize(float64(m.Dataset.MaximumSize)), nodeState.Mountpoints[id])
		}
		fmt.Println()
		fmt.Printf("%-38s %s\n", "NON-MANIFEST DATASET", "SIZE")
		for id, dataset := range nonManifest.Datasets {
			fmt.Printf("%-38s %s\n", id, units.BytesSize(float64(dataset.MaximumSize)))
		}
		return nil
	},
}

func init() {
	discoverCmd.Flags().Bool("json", false, "Print machine-readable JSON instead of a table")
}

var volumesCmd = &cobra.Command{
	Use:   "volumes",
	Short: "Inspect provider volumes",
}

var volumesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every volume the configured provider knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		provider, err := agent.NewProvider(cfg)
		if err != nil {
			return err
		}

		volumes, err := provider.ListVolumes(context.Background())
		if err != nil {
			return fmt.Errorf("list volumes: %w", err)
		}

		fmt.Printf("%-20s %-38s %-10s %s\n", "BLOCKDEVICE_ID", "DATASET", "SIZE", "HOST")
		for _, vol := range volumes {
			host := vol.Host
			if host == "" {
				host = "<unattached>"
			}
			fmt.Printf("%-20s %-38s %-10s %s\n", vol.BlockDeviceID, vol.DatasetID, units.BytesSize(float64(vol.Size)), host)
		}
		return nil
	},
}
