/*
Package storage persists this node's own last observation locally.

BoltStore keeps exactly two values, each a single JSON blob under a fixed
key in its own bucket: the most recently discovered NodeState, and the
Configuration the agent was last asked to converge toward. It is a local
read cache, not a replicated cluster store — every node's database holds
only its own entry, and nothing here is shared across nodes.

Agent.NodeState reads the cached NodeState back without waiting on the
next tick. The CLI commands do not read this cache: discover runs a live
discovery pass.
*/
package storage
