// Package store defines and implements the Cluster Store: one persisted
// record per aggregate, with atomic create/update operations. The default
// implementation is BoltDB-backed (boltstore.go), following the same
// per-bucket JSON layout the teacher uses for its own cluster state.
package store

import "github.com/cuemby/hamgr/pkg/types"

// Store persists cluster records. Every mutation is atomic: no caller ever
// observes an in-between state, and callers never hold a transaction across
// an external RPC call.
type Store interface {
	// Get returns the cluster record for name, or a haerrors.ErrNotFound
	// (wrapped with name) if it has never been created.
	Get(name string) (*types.Cluster, error)

	// GetAllActive returns every cluster record with Enabled == true.
	GetAllActive() ([]*types.Cluster, error)

	// CreateIfAbsent creates a cluster record with the given initial task
	// state if one does not already exist, and returns the (possibly
	// pre-existing) record.
	CreateIfAbsent(name string, initial types.TaskState) (*types.Cluster, error)

	// SetEnabled atomically updates the Enabled flag on the record with id.
	SetEnabled(id string, enabled bool) error

	// SetTaskState atomically updates the TaskState on the record with id.
	SetTaskState(id string, state types.TaskState) error

	// CompareAndSetTaskState atomically transitions the record with id from
	// want to set, failing with a *haerrors.ClusterBusyError (carrying the
	// record's current state) if the current TaskState is not want. This is
	// the task-state gate spec.md §5 describes: the CAS itself is the lock
	// serializing concurrent enable/disable calls on the same cluster.
	CompareAndSetTaskState(id string, want, set types.TaskState) error

	// Close releases any resources held by the store.
	Close() error
}
