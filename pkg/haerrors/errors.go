/*
Package haerrors defines the error kinds signalled by the cluster
reconciliation engine (store lookups, role/segment RPC failures, and the
task-state concurrency gate). Callers distinguish them with errors.Is /
errors.As rather than string matching.
*/
package haerrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by the store when a cluster record is absent.
	ErrNotFound = errors.New("cluster not found")

	// ErrAggregateNotFound is returned by the inventory client.
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrSegmentNotFound is returned by the segment client.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrHostNotFound is returned when a host has zero or multiple matching
	// service records in the inventory.
	ErrHostNotFound = errors.New("host not found")

	// ErrHostOffline is returned when the role service reports a host as
	// down in response to an attach/detach call.
	ErrHostOffline = errors.New("host offline")

	// ErrInsufficientHosts is returned when fewer than the minimum host
	// count is available for a topology.
	ErrInsufficientHosts = errors.New("insufficient hosts")

	// ErrRoleConvergeFailed is returned when role removal does not converge
	// within its wall-clock budget.
	ErrRoleConvergeFailed = errors.New("role removal did not converge")

	// ErrRoleAttachFailed is returned when a role attach/detach call is
	// still answered with 409 Conflict after its retry budget has elapsed.
	ErrRoleAttachFailed = errors.New("role operation failed")
)

// ClusterBusyError reports that a cluster record is mid-transition and
// cannot accept a new enable/disable request.
type ClusterBusyError struct {
	Name  string
	State string
}

func (e *ClusterBusyError) Error() string {
	return fmt.Sprintf("cluster %s is busy (task_state=%s)", e.Name, e.State)
}

// NewClusterBusy builds a *ClusterBusyError for the given cluster name and
// current task state.
func NewClusterBusy(name, state string) error {
	return &ClusterBusyError{Name: name, State: state}
}

// IsClusterBusy reports whether err (or any error it wraps) is a
// ClusterBusyError.
func IsClusterBusy(err error) bool {
	var busy *ClusterBusyError
	return errors.As(err, &busy)
}

// Wrap annotates err with id using the same format every caller uses, so
// errors.Is(err, sentinel) keeps matching after wrapping.
func Wrap(sentinel error, id string) error {
	return fmt.Errorf("%w: %s", sentinel, id)
}
