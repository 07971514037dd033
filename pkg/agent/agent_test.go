package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/blockagent/pkg/blockdevice/blockdevicetest"
	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/log"
	"github.com/cuemby/blockagent/pkg/storage"
	"github.com/cuemby/blockagent/pkg/types"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Agent{
		cfg: &Config{
			Hostname:     "10.0.0.1",
			MountRoot:    "/flocker",
			TickInterval: time.Second,
		},
		deployer:      deployer.New("10.0.0.1", blockdevicetest.New(), "/flocker"),
		store:         store,
		logger:        log.WithComponent("agent-test"),
		configuration: types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{}},
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func TestTickDestroyWithNoMatchingVolumeIsNoop(t *testing.T) {
	a := newTestAgent(t)
	datasetID := uuid.New()
	a.configuration = types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID, Deleted: true}},
	}}

	plan, err := a.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, plan)

	state, ok, err := a.NodeState()
	require.NoError(t, err)
	require.True(t, ok, "expected NodeState to have been persisted")
	require.Empty(t, state.Manifestations)
}

func TestSetConfigurationReplacesDesiredState(t *testing.T) {
	a := newTestAgent(t)
	datasetID := uuid.New()
	configuration := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID, MaximumSize: 1024}},
	}}

	a.SetConfiguration(configuration)

	if len(a.configuration.Manifestations) != 1 {
		t.Fatalf("expected 1 manifestation after SetConfiguration, got %d", len(a.configuration.Manifestations))
	}
}

func TestReloadConfigurationAppliesNewFile(t *testing.T) {
	a := newTestAgent(t)
	datasetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	path := filepath.Join(t.TempDir(), "configuration.yaml")
	contents := "datasets:\n  - id: " + datasetID.String() + "\n    maximum_size: 1073741824\n    primary: true\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a.cfg.ConfigurationFile = path

	a.reloadConfiguration()

	manifestation, ok := a.configuration.Manifestations[datasetID]
	if !ok {
		t.Fatalf("expected dataset %s to be present after reload", datasetID)
	}
	if manifestation.Dataset.MaximumSize != 1073741824 {
		t.Errorf("MaximumSize = %d, want 1073741824", manifestation.Dataset.MaximumSize)
	}
}

func TestReloadConfigurationKeepsPreviousOnParseError(t *testing.T) {
	a := newTestAgent(t)
	datasetID := uuid.New()
	a.configuration = types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID}},
	}}

	path := filepath.Join(t.TempDir(), "configuration.yaml")
	if err := os.WriteFile(path, []byte("datasets:\n  - id: not-a-uuid\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	a.cfg.ConfigurationFile = path

	a.reloadConfiguration()

	if _, ok := a.configuration.Manifestations[datasetID]; !ok {
		t.Errorf("expected previous configuration to be kept after a parse error")
	}
}
