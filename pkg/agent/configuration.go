package agent

import (
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/blockagent/pkg/types"
)

// datasetSpec is the on-disk shape of one entry in a configuration file: a
// flatter, hand-editable form of types.Manifestation keyed by list position
// rather than by map, since YAML authors write lists more naturally than
// maps-of-structs. MaximumSize is a string so it accepts either a raw byte
// count ("1073741824") or a human size ("1GiB"), parsed via go-units.
type datasetSpec struct {
	ID          string `yaml:"id"`
	MaximumSize string `yaml:"maximum_size"`
	Deleted     bool   `yaml:"deleted"`
	Primary     bool   `yaml:"primary"`
}

type configurationFile struct {
	Datasets []datasetSpec `yaml:"datasets"`
}

// LoadConfiguration reads the desired-state file this node converges
// toward: the set of datasets it should manifest locally. An empty path
// yields an empty Configuration, from which the planner produces no changes
// (it destroys only datasets the configuration marks deleted); a path that
// cannot be read is an error.
func LoadConfiguration(path string) (types.Configuration, error) {
	config := types.Configuration{Manifestations: make(map[uuid.UUID]types.Manifestation)}
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read configuration %s: %w", path, err)
	}

	var file configurationFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return config, fmt.Errorf("parse configuration %s: %w", path, err)
	}

	for _, spec := range file.Datasets {
		id, err := types.ParseDatasetID(spec.ID)
		if err != nil {
			return config, fmt.Errorf("configuration %s: %w", path, err)
		}
		var size int64
		if spec.MaximumSize != "" {
			size, err = units.RAMInBytes(spec.MaximumSize)
			if err != nil {
				return config, fmt.Errorf("configuration %s: dataset %s: maximum_size: %w", path, spec.ID, err)
			}
		}
		config.Manifestations[id] = types.Manifestation{
			Dataset: types.Dataset{
				ID:          id,
				MaximumSize: size,
				Deleted:     spec.Deleted,
			},
			Primary: spec.Primary,
		}
	}

	return config, nil
}
