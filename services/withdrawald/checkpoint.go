package withdrawald

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoints = []byte("checkpoints")
	keyLatest         = []byte("latest")
)

// Checkpoint records the last committed block so a restart resumes from the
// same state root.
type Checkpoint struct {
	Height     uint64      `json:"height"`
	CoreHeight uint64      `json:"coreHeight"`
	Root       common.Hash `json:"root"`
	SavedAt    time.Time   `json:"savedAt"`
}

// CheckpointStore persists checkpoints in BoltDB.
type CheckpointStore struct {
	db *bolt.DB
}

// OpenCheckpoints opens (or creates) the checkpoint database.
func OpenCheckpoints(path string) (*CheckpointStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoints: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoints: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Close releases the database.
func (s *CheckpointStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores cp as the latest checkpoint and archives it by height.
func (s *CheckpointStore) Save(cp Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		if err := bucket.Put(keyLatest, payload); err != nil {
			return err
		}
		return bucket.Put(heightKey(cp.Height), payload)
	})
}

// Latest returns the most recent checkpoint. ok is false on a fresh store.
func (s *CheckpointStore) Latest() (Checkpoint, bool, error) {
	return s.load(keyLatest)
}

// At returns the checkpoint saved for height.
func (s *CheckpointStore) At(height uint64) (Checkpoint, bool, error) {
	return s.load(heightKey(height))
}

// Prune deletes per-height checkpoints below height.
func (s *CheckpointStore) Prune(below uint64) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCheckpoints)
		limit := string(heightKey(below))
		var stale [][]byte
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(heightKey(0)); k != nil && string(k) < limit; k, _ = cursor.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *CheckpointStore) load(key []byte) (Checkpoint, bool, error) {
	var cp Checkpoint
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cp)
	})
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, found, nil
}

func heightKey(height uint64) []byte {
	return []byte(fmt.Sprintf("h/%020d", height))
}
