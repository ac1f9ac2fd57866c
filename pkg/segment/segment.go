// Package segment is a thin client over the downstream HA service that
// groups hosts into failure-detection segments and receives host up/down
// notifications (spec.md §6).
package segment

import (
	"context"
	"time"

	"github.com/cuemby/hamgr/pkg/types"
)

// Client is the Segment Client described in spec.md §4.4.
type Client interface {
	// CreateSegment registers name as a failure-detection segment
	// containing hosts.
	CreateSegment(ctx context.Context, name string, hosts []string) error

	// DeleteSegment removes name. Deleting an already-absent segment is
	// not an error.
	DeleteSegment(ctx context.Context, name string) error

	// ListHostsInSegment returns the hosts in segment name. Returns
	// haerrors.ErrSegmentNotFound (wrapped with name) if absent.
	ListHostsInSegment(ctx context.Context, name string) ([]types.SegmentHost, error)

	// Notify delivers a host up/down notification to the HA service, naming
	// the specific host and the time the event was observed — without
	// both, the HA service has no way to know which host's VMs to evacuate.
	Notify(ctx context.Context, host string, at time.Time, payload types.NotificationPayload) error
}
