// Package discovery reconstructs a node's true dataset state by
// enumerating provider volumes and cross-checking them against the host's
// live mount table.
package discovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/moby/sys/mountinfo"

	"github.com/cuemby/blockagent/pkg/deployer"
	"github.com/cuemby/blockagent/pkg/types"
)

// mountPoint pairs a mounted device with where it's mounted, the shape
// discovery needs from the host mount table regardless of how that table
// was read.
type mountPoint struct {
	Device     string
	Mountpoint string
}

// hostMountTable abstracts "read the live mount table" so tests can supply
// a fixed table instead of depending on the real host's /proc.
type hostMountTable func() ([]mountPoint, error)

// readProcMounts is the production hostMountTable: the kernel's live view
// of mounted filesystems via /proc/self/mountinfo.
func readProcMounts() ([]mountPoint, error) {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	out := make([]mountPoint, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mountPoint{Device: m.Source, Mountpoint: m.Mountpoint})
	}
	return out, nil
}

// DiscoverState enumerates provider volumes and the host mount table to
// compute this node's observed state: which datasets are truly manifest
// (attached here AND mounted at the expected path) versus non-manifest.
func DiscoverState(ctx context.Context, d *deployer.Deployer) (types.NodeState, types.NonManifestDatasets, error) {
	return discoverState(ctx, d, readProcMounts)
}

func discoverState(ctx context.Context, d *deployer.Deployer, readMounts hostMountTable) (types.NodeState, types.NonManifestDatasets, error) {
	nodeState := types.NewNodeState(d.Hostname)
	nonManifest := types.NewNonManifestDatasets()

	volumes, err := d.Provider.ListVolumes(ctx)
	if err != nil {
		return nodeState, nonManifest, fmt.Errorf("list volumes: %w", err)
	}

	var localCandidates []types.Volume
	for _, vol := range volumes {
		switch {
		case vol.Host == d.Hostname:
			localCandidates = append(localCandidates, vol)
		case vol.Host == types.UnattachedHost:
			nonManifest.Datasets[vol.DatasetID] = types.Dataset{ID: vol.DatasetID, MaximumSize: vol.Size}
		default:
			// attached elsewhere; not this node's concern
		}
	}

	mounts, err := readMounts()
	if err != nil {
		return nodeState, nonManifest, err
	}
	mountedAt := make(map[string]string, len(mounts)) // device -> mountpoint
	for _, m := range mounts {
		mountedAt[m.Device] = m.Mountpoint
	}

	// Two-pass collect-then-apply: decide every candidate's fate against the
	// volumes/mounts snapshot taken above before mutating either result set,
	// rather than demoting entries out of a map while ranging over it.
	type verdict struct {
		datasetID uuid.UUID
		dataset   types.Dataset
		manifest  bool
		mountpath string
	}
	verdicts := make([]verdict, 0, len(localCandidates))

	for _, vol := range localCandidates {
		expectedPath := d.MountPathFor(vol.DatasetID)
		devicePath, err := d.Provider.GetDevicePath(ctx, vol.BlockDeviceID)
		if err != nil {
			// can't resolve a device path (e.g. half-converged: attached but
			// the loop bind failed) means it can't possibly be mounted.
			verdicts = append(verdicts, verdict{datasetID: vol.DatasetID, dataset: types.Dataset{ID: vol.DatasetID, MaximumSize: vol.Size}})
			continue
		}
		actualMountpoint, isMounted := mountedAt[devicePath]
		manifest := isMounted && actualMountpoint == expectedPath
		verdicts = append(verdicts, verdict{
			datasetID: vol.DatasetID,
			dataset:   types.Dataset{ID: vol.DatasetID, MaximumSize: vol.Size},
			manifest:  manifest,
			mountpath: expectedPath,
		})
	}

	for _, v := range verdicts {
		if v.manifest {
			nodeState.Manifestations[v.datasetID] = types.Manifestation{Dataset: v.dataset, Primary: true}
			nodeState.Mountpoints[v.datasetID] = v.mountpath
		} else {
			nonManifest.Datasets[v.datasetID] = v.dataset
		}
	}

	return nodeState, nonManifest, nil
}
