package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketClusters = []byte("clusters")

// BoltStore implements Store using a single BoltDB bucket, keyed by the
// cluster's surrogate ID and JSON-encoded, mirroring the teacher's
// bucket-per-entity BoltDB layout.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a BoltDB-backed Store under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "hamgr.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketClusters)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create clusters bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(name string) (*types.Cluster, error) {
	var found *types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			if cluster.Name == name {
				found = &cluster
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, haerrors.Wrap(haerrors.ErrNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) GetAllActive() ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		return b.ForEach(func(k, v []byte) error {
			var cluster types.Cluster
			if err := json.Unmarshal(v, &cluster); err != nil {
				return err
			}
			if cluster.Enabled {
				clusters = append(clusters, &cluster)
			}
			return nil
		})
	})
	return clusters, err
}

func (s *BoltStore) CreateIfAbsent(name string, initial types.TaskState) (*types.Cluster, error) {
	cluster := &types.Cluster{
		ID:        uuid.New().String(),
		Name:      name,
		Enabled:   false,
		TaskState: initial,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		var found *types.Cluster
		if err := b.ForEach(func(k, v []byte) error {
			var existing types.Cluster
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Name == name {
				found = &existing
			}
			return nil
		}); err != nil {
			return err
		}
		if found != nil {
			cluster = found
			return nil
		}
		data, err := json.Marshal(cluster)
		if err != nil {
			return err
		}
		return b.Put([]byte(cluster.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster record: %w", err)
	}

	return cluster, nil
}

func (s *BoltStore) SetEnabled(id string, enabled bool) error {
	return s.update(id, func(cluster *types.Cluster) {
		cluster.Enabled = enabled
	})
}

func (s *BoltStore) SetTaskState(id string, state types.TaskState) error {
	return s.update(id, func(cluster *types.Cluster) {
		cluster.TaskState = state
	})
}

func (s *BoltStore) CompareAndSetTaskState(id string, want, set types.TaskState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		data := b.Get([]byte(id))
		if data == nil {
			return haerrors.Wrap(haerrors.ErrNotFound, id)
		}

		var cluster types.Cluster
		if err := json.Unmarshal(data, &cluster); err != nil {
			return err
		}
		if cluster.TaskState != want {
			return haerrors.NewClusterBusy(cluster.Name, string(cluster.TaskState))
		}
		cluster.TaskState = set

		updated, err := json.Marshal(cluster)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}

// update performs a single read-modify-write transaction so the mutation is
// atomic from every observer's viewpoint.
func (s *BoltStore) update(id string, mutate func(*types.Cluster)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		data := b.Get([]byte(id))
		if data == nil {
			return haerrors.Wrap(haerrors.ErrNotFound, id)
		}

		var cluster types.Cluster
		if err := json.Unmarshal(data, &cluster); err != nil {
			return err
		}

		mutate(&cluster)

		updated, err := json.Marshal(cluster)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
}
