// Package planner implements the pure diff between desired configuration
// and observed cluster state: CalculateChanges has no side effects and
// performs no I/O, which is what makes it straightforward to test
// exhaustively.
package planner

import (
	"sort"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/statechange"
	"github.com/cuemby/blockagent/pkg/types"
)

// CalculateChanges diffs configuration against clusterState for hostname
// and returns the plan to converge: one CreateBlockDeviceDataset for every
// desired-but-not-observed manifestation, one DestroyBlockDeviceDataset for
// every manifestation configuration marks deleted, run in parallel. Calling
// this twice with identical inputs yields structurally equal output.
func CalculateChanges(hostname string, mountRoot string, configuration types.Configuration, clusterState types.ClusterState) statechange.StateChange {
	desired := configuration.LocalManifestations()
	observed := clusterState.Observed(hostname)

	var toCreate []uuid.UUID
	for id := range desired {
		if _, present := observed[id]; !present {
			toCreate = append(toCreate, id)
		}
	}

	var toDelete []uuid.UUID
	for id := range configuration.DeletedManifestations() {
		toDelete = append(toDelete, id)
	}

	// Sort so equal inputs always produce an identical plan shape, not just
	// an equal multiset — needed for the purity property to hold under
	// structural (not set) equality assertions in tests.
	sort.Slice(toCreate, func(i, j int) bool { return toCreate[i].String() < toCreate[j].String() })
	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i].String() < toDelete[j].String() })

	changes := make([]statechange.StateChange, 0, len(toCreate)+len(toDelete))
	for _, id := range toCreate {
		manifestation := desired[id]
		changes = append(changes, statechange.CreateBlockDeviceDataset{
			Dataset:    manifestation.Dataset,
			Mountpoint: deployer.MountPathFor(mountRoot, id),
		})
	}
	for _, id := range toDelete {
		changes = append(changes, statechange.DestroyBlockDeviceDataset{DatasetID: id})
	}

	return statechange.InParallel{Changes: changes}
}
