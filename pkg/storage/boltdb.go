package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/blockagent/pkg/types"
)

var (
	bucketState         = []byte("node_state")
	bucketConfiguration = []byte("configuration")

	keyLatest = []byte("latest")
)

// BoltStore implements Store using a local BoltDB file. Each node owns its
// own database; nothing here is synchronized across nodes.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB database under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "blockagent.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketConfiguration} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveNodeState persists the most recently discovered NodeState, overwriting
// whatever was stored before.
func (s *BoltStore) SaveNodeState(state types.NodeState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal node state: %w", err)
		}
		return tx.Bucket(bucketState).Put(keyLatest, data)
	})
}

// LoadNodeState returns the last saved NodeState, or ok=false if discovery
// has never run since this store was created.
func (s *BoltStore) LoadNodeState() (types.NodeState, bool, error) {
	var state types.NodeState
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyLatest)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &state)
	})
	return state, found, err
}

// SaveConfiguration persists the configuration the agent is currently
// converging toward.
func (s *BoltStore) SaveConfiguration(config types.Configuration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("marshal configuration: %w", err)
		}
		return tx.Bucket(bucketConfiguration).Put(keyLatest, data)
	})
}

// LoadConfiguration returns the last saved Configuration, or ok=false if
// none has been saved yet.
func (s *BoltStore) LoadConfiguration() (types.Configuration, bool, error) {
	var config types.Configuration
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfiguration).Get(keyLatest)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &config)
	})
	return config, found, err
}

var _ Store = (*BoltStore)(nil)
