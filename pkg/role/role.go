// Package role is a thin client over the host-role management service
// (spec.md §6): attaching and detaching the HA agent/server role on a
// single host, and waiting for a detached role to fully converge.
package role

import (
	"context"

	"github.com/cuemby/hamgr/pkg/types"
)

// AttachSpec describes a single role assignment.
type AttachSpec struct {
	Role            types.Role
	JoinIP          string // the leader's management IP every host joins through
	HostIP          string // this host's own management IP
	BootstrapExpect int
}

// Client is the Role Client described in spec.md §4.3.
type Client interface {
	// Attach assigns spec.Role to host. Attach retries internally on a
	// transient 409 conflict, bounded by a configured deadline; it
	// returns haerrors.ErrRoleAttachFailed if the deadline elapses first,
	// and haerrors.ErrHostOffline if the service reports the host down.
	Attach(ctx context.Context, host string, spec AttachSpec) error

	// Detach removes role from host, with the same conflict-retry
	// behavior as Attach.
	Detach(ctx context.Context, host string, role types.Role) error

	// WaitForRemoval polls until role is no longer attached to host, or
	// returns haerrors.ErrRoleConvergeFailed once its poll budget elapses.
	WaitForRemoval(ctx context.Context, host string, role types.Role) error
}
