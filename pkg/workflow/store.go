package workflow

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/lesleslie/oneiric/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var runsBucket = []byte("runs")

// CheckpointStore is a bbolt database with one bucket per run_id and one
// key per node_key, value the JSON-encoded NodeRecord. Grounded on
// Warren's BoltStore bucket-per-entity pattern in pkg/storage/boltdb.go.
type CheckpointStore struct {
	db *bolt.DB
}

// NewCheckpointStore opens (creating if absent) workflow_checkpoints.db
// under dataDir.
func NewCheckpointStore(dataDir string) (*CheckpointStore, error) {
	path := filepath.Join(dataDir, "workflow_checkpoints.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// Put persists a node's checkpoint for runID, creating the run's bucket
// if this is its first node.
func (s *CheckpointStore) Put(runID string, rec types.NodeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(runID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(rec.NodeKey), data)
	})
}

// Get returns the checkpoint for (runID, nodeKey), and whether one exists.
func (s *CheckpointStore) Get(runID, nodeKey string) (types.NodeRecord, bool, error) {
	var rec types.NodeRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runID))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(nodeKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}

// All returns every checkpoint recorded for runID.
func (s *CheckpointStore) All(runID string) (map[string]types.NodeRecord, error) {
	out := make(map[string]types.NodeRecord)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var rec types.NodeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

// ExecutionStore persists RunRecord bookkeeping in a single bucket keyed
// by run_id, also bbolt-backed.
type ExecutionStore struct {
	db *bolt.DB
}

// NewExecutionStore opens (creating if absent) workflow_runs.db under
// dataDir.
func NewExecutionStore(dataDir string) (*ExecutionStore, error) {
	path := filepath.Join(dataDir, "workflow_runs.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open execution store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ExecutionStore{db: db}, nil
}

func (s *ExecutionStore) Close() error {
	return s.db.Close()
}

func (s *ExecutionStore) Put(rec types.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(runsBucket).Put([]byte(rec.RunID), data)
	})
}

func (s *ExecutionStore) Get(runID string) (types.RunRecord, bool, error) {
	var rec types.RunRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(runsBucket).Get([]byte(runID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	return rec, found, err
}
