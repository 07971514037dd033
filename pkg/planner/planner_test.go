package planner

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/statechange"
	"github.com/cuemby/blockagent/pkg/types"
)

const (
	testHostname  = "10.0.0.1"
	testMountRoot = "/flocker"
)

func TestCalculateChangesIsPure(t *testing.T) {
	datasetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	config := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID, MaximumSize: 1073741824}, Primary: true},
	}}
	clusterState := types.ClusterState{}

	first := CalculateChanges(testHostname, testMountRoot, config, clusterState)
	second := CalculateChanges(testHostname, testMountRoot, config, clusterState)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("CalculateChanges is not pure, diff (-first +second):\n%s", diff)
	}
}

func TestCalculateChangesCreatesDesiredNotObserved(t *testing.T) {
	datasetID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	config := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID, MaximumSize: 1073741824}, Primary: true},
	}}
	clusterState := types.ClusterState{}

	got := CalculateChanges(testHostname, testMountRoot, config, clusterState)

	want := statechange.InParallel{Changes: []statechange.StateChange{
		statechange.CreateBlockDeviceDataset{
			Dataset:    config.Manifestations[datasetID].Dataset,
			Mountpoint: testMountRoot + "/" + datasetID.String(),
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CalculateChanges() mismatch (-want +got):\n%s", diff)
	}
}

func TestCalculateChangesSkipsAlreadyObserved(t *testing.T) {
	datasetID := uuid.New()
	manifestation := types.Manifestation{Dataset: types.Dataset{ID: datasetID, MaximumSize: 1024}, Primary: true}
	config := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{datasetID: manifestation}}
	clusterState := types.ClusterState{Nodes: map[string]types.NodeState{
		testHostname: {
			Hostname:       testHostname,
			Manifestations: map[uuid.UUID]types.Manifestation{datasetID: manifestation},
			Mountpoints:    map[uuid.UUID]string{},
		},
	}}

	got := CalculateChanges(testHostname, testMountRoot, config, clusterState)
	par, ok := got.(statechange.InParallel)
	if !ok {
		t.Fatalf("expected InParallel, got %T", got)
	}
	if len(par.Changes) != 0 {
		t.Errorf("expected no changes for an already-observed manifestation, got %+v", par.Changes)
	}
}

func TestCalculateChangesDeletesRegardlessOfObservedState(t *testing.T) {
	datasetID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	config := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		datasetID: {Dataset: types.Dataset{ID: datasetID, Deleted: true}},
	}}
	// Empty cluster state: the dataset never existed, destroy must still be
	// planned and is expected to be a no-op at execution time.
	got := CalculateChanges(testHostname, testMountRoot, config, types.ClusterState{})

	want := statechange.InParallel{Changes: []statechange.StateChange{
		statechange.DestroyBlockDeviceDataset{DatasetID: datasetID},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CalculateChanges() mismatch (-want +got):\n%s", diff)
	}
}

func TestCalculateChangesParallelCreateOfTwo(t *testing.T) {
	id1 := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	id2 := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	config := types.Configuration{Manifestations: map[uuid.UUID]types.Manifestation{
		id1: {Dataset: types.Dataset{ID: id1, MaximumSize: 1024}},
		id2: {Dataset: types.Dataset{ID: id2, MaximumSize: 2048}},
	}}

	got := CalculateChanges(testHostname, testMountRoot, config, types.ClusterState{})
	par, ok := got.(statechange.InParallel)
	if !ok {
		t.Fatalf("expected InParallel, got %T", got)
	}
	if len(par.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(par.Changes))
	}
}
