// Package inventory is a thin client over the compute-cloud inventory
// service (spec.md §6): aggregate membership, hypervisor IPs, and
// per-host liveness scoped to the HA-relevant compute service.
package inventory

import (
	"context"

	"github.com/cuemby/hamgr/pkg/types"
)

// Client is the Inventory Client described in spec.md §4.2.
type Client interface {
	// ListAggregates lists every administrator-defined aggregate.
	ListAggregates(ctx context.Context) ([]types.Aggregate, error)

	// GetAggregate returns a single aggregate. Returns
	// haerrors.ErrAggregateNotFound (wrapped with id) if absent.
	GetAggregate(ctx context.Context, id string) (types.Aggregate, error)

	// ListHypervisors lists every hypervisor host and its management IP.
	ListHypervisors(ctx context.Context) ([]types.HostIP, error)

	// ServiceState returns the liveness of the HA-relevant compute service
	// on host. Returns haerrors.ErrHostNotFound (wrapped with host) when
	// zero or multiple matching service records are found.
	ServiceState(ctx context.Context, host string) (types.HostLiveness, error)
}
