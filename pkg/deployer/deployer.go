// Package deployer holds the per-node context that state-change operations
// and discovery execute against.
package deployer

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/blockagent/pkg/blockdevice"
)

// DefaultMountRoot is used when a Deployer is constructed without an
// explicit mount root.
const DefaultMountRoot = "/flocker"

// Deployer is the per-node context: which host this is, which backend
// manages its volumes, and where locally-manifest datasets get mounted. It
// lives for the process lifetime and is passed by reference to every
// state-change Execute call and to discovery.
type Deployer struct {
	Hostname  string
	Provider  blockdevice.Provider
	MountRoot string
}

// New returns a Deployer, defaulting MountRoot to DefaultMountRoot if
// mountRoot is empty.
func New(hostname string, provider blockdevice.Provider, mountRoot string) *Deployer {
	if mountRoot == "" {
		mountRoot = DefaultMountRoot
	}
	return &Deployer{Hostname: hostname, Provider: provider, MountRoot: mountRoot}
}

// MountPathFor returns the expected mountpath for a dataset: mountroot /
// dataset_id.
func (d *Deployer) MountPathFor(datasetID uuid.UUID) string {
	return MountPathFor(d.MountRoot, datasetID)
}

// MountPathFor computes mountroot / dataset_id without requiring a
// Deployer, for callers (like the planner) that only need the path.
func MountPathFor(mountRoot string, datasetID uuid.UUID) string {
	return filepath.Join(mountRoot, datasetID.String())
}
