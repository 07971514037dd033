package storage

import (
	"github.com/cuemby/blockagent/pkg/types"
)

// Store is a local read cache of this node's own last observation: the
// most recent discovered NodeState and the configuration it was last asked
// to converge toward. It is not cluster state replication — every node
// owns exactly its own entry, written only by this process.
type Store interface {
	SaveNodeState(state types.NodeState) error
	LoadNodeState() (types.NodeState, bool, error)

	SaveConfiguration(config types.Configuration) error
	LoadConfiguration() (types.Configuration, bool, error)

	Close() error
}
