// Package types holds the data model shared by the provider, discovery,
// planner and agent packages: datasets, manifestations, node state and the
// configuration the control plane hands to a node.
package types

import (
	"fmt"

	"github.com/google/uuid"
)

// UnattachedHost is the sentinel host value for a volume with no attachment.
const UnattachedHost = ""

// Volume is the canonical record describing one block device, as returned
// by a Provider. It is immutable: attach/detach return a new value rather
// than mutating the receiver.
type Volume struct {
	BlockDeviceID string    // cluster-unique, backend-assigned
	DatasetID     uuid.UUID // stable identity of the logical dataset
	Size          int64     // bytes, set at creation, never mutated
	Host          string    // UnattachedHost, or the address of the attached node
}

// Attached reports whether the volume currently has a host.
func (v Volume) Attached() bool {
	return v.Host != UnattachedHost
}

// WithHost returns a copy of v attached to host (or detached, if host is
// UnattachedHost).
func (v Volume) WithHost(host string) Volume {
	v.Host = host
	return v
}

// Dataset is the logical identity configuration assigns to a unit of
// storage: a stable id, an optional maximum size enforced at creation time,
// and whether it has been marked for removal.
type Dataset struct {
	ID          uuid.UUID
	MaximumSize int64 // bytes; 0 when unset, passed to the provider unchanged
	Deleted     bool
}

// Manifestation asserts that a Dataset is locally present on a node. All
// manifestations produced by this agent are primary.
type Manifestation struct {
	Dataset Dataset
	Primary bool
}

// NodeState is the observed, per-node state produced by discovery: which
// datasets are locally manifest, and where each is mounted.
type NodeState struct {
	Hostname       string
	Manifestations map[uuid.UUID]Manifestation
	Mountpoints    map[uuid.UUID]string
}

// NewNodeState returns an empty NodeState for hostname.
func NewNodeState(hostname string) NodeState {
	return NodeState{
		Hostname:       hostname,
		Manifestations: make(map[uuid.UUID]Manifestation),
		Mountpoints:    make(map[uuid.UUID]string),
	}
}

// NonManifestDatasets is the set of datasets known to the provider but not
// usable on any node: unattached cluster-wide, or attached-but-not-yet (or
// no-longer) mounted on the observing node.
type NonManifestDatasets struct {
	Datasets map[uuid.UUID]Dataset
}

// NewNonManifestDatasets returns an empty NonManifestDatasets.
func NewNonManifestDatasets() NonManifestDatasets {
	return NonManifestDatasets{Datasets: make(map[uuid.UUID]Dataset)}
}

// Configuration is the desired state the control plane hands to a node:
// which manifestations it wants present here.
type Configuration struct {
	Manifestations map[uuid.UUID]Manifestation
}

// ClusterState is the cluster-wide observed state the control plane hands
// back to the node, keyed by hostname. The planner only ever reads the
// entry for the local hostname.
type ClusterState struct {
	Nodes map[string]NodeState
}

// LocalManifestations returns the non-deleted manifestations in c.
func (c Configuration) LocalManifestations() map[uuid.UUID]Manifestation {
	out := make(map[uuid.UUID]Manifestation)
	for id, m := range c.Manifestations {
		if !m.Dataset.Deleted {
			out[id] = m
		}
	}
	return out
}

// DeletedManifestations returns the manifestations c marks deleted,
// independent of whether a backing volume currently exists anywhere.
func (c Configuration) DeletedManifestations() map[uuid.UUID]Manifestation {
	out := make(map[uuid.UUID]Manifestation)
	for id, m := range c.Manifestations {
		if m.Dataset.Deleted {
			out[id] = m
		}
	}
	return out
}

// Observed returns the manifestations ClusterState reports for hostname, or
// an empty map if the node has not yet reported in.
func (c ClusterState) Observed(hostname string) map[uuid.UUID]Manifestation {
	node, ok := c.Nodes[hostname]
	if !ok {
		return map[uuid.UUID]Manifestation{}
	}
	return node.Manifestations
}

// ParseDatasetID validates and parses a canonical dataset id string.
func ParseDatasetID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid dataset id %q: %w", s, err)
	}
	return id, nil
}
