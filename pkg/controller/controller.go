// Package controller implements the Cluster Controller: the enable/disable
// workflow that owns a cluster record's task-state transitions, attaches
// and detaches the role topology, and manages the failover segment.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/inventory"
	"github.com/cuemby/hamgr/pkg/log"
	"github.com/cuemby/hamgr/pkg/metrics"
	"github.com/cuemby/hamgr/pkg/role"
	"github.com/cuemby/hamgr/pkg/segment"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/topology"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/rs/zerolog"
)

// Controller owns cluster enable/disable workflows for a single hamgr
// process. It is constructed once and holds no package-level state.
type Controller struct {
	Store     store.Store
	Inventory inventory.Client
	Roles     role.Client
	Segments  segment.Client
	Logger    zerolog.Logger
}

// New builds a Controller over the given collaborators.
func New(s store.Store, inv inventory.Client, roles role.Client, segments segment.Client) *Controller {
	return &Controller{
		Store:     s,
		Inventory: inv,
		Roles:     roles,
		Segments:  segments,
		Logger:    log.Logger,
	}
}

type compensator func(ctx context.Context) error

// Enable implements spec.md §4.6.1. hosts, if non-empty, restricts the
// enable to a subset of the aggregate's members; an empty slice enables
// over every current member.
func (c *Controller) Enable(ctx context.Context, aggregateID string, hosts []string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EnableDuration)

	existing, err := c.Store.Get(aggregateID)
	recordExists := err == nil
	if err != nil && !errors.Is(err, haerrors.ErrNotFound) {
		return fmt.Errorf("controller: enable %s: %w", aggregateID, err)
	}
	if recordExists {
		// The CAS from COMPLETED to CREATING is the concurrency gate: it
		// both enforces step 1 (no enable/disable may be mid-flight) and
		// claims the record for this attempt in one atomic transition.
		if err := c.Store.CompareAndSetTaskState(existing.ID, types.TaskStateCompleted, types.TaskStateCreating); err != nil {
			metrics.EnableFailuresTotal.Inc()
			return err
		}
	}

	// failBefore handles every failure before any role is attached: once the
	// record already existed, it must be rolled back to its prior settled
	// state via teardown even though no roles have been attached yet in
	// this attempt; a brand-new cluster has nothing to roll back.
	failBefore := func(cause error) error {
		if recordExists {
			return c.rollbackAfterRecord(ctx, existing, nil, cause)
		}
		metrics.EnableFailuresTotal.Inc()
		return cause
	}

	chosen := hosts
	if len(chosen) == 0 {
		aggregate, err := c.Inventory.GetAggregate(ctx, aggregateID)
		if err != nil {
			return failBefore(fmt.Errorf("controller: enable %s: %w", aggregateID, err))
		}
		chosen = aggregate.Hosts
	}

	topo, err := topology.Plan(chosen)
	if err != nil {
		return failBefore(fmt.Errorf("controller: enable %s: %w", aggregateID, err))
	}

	ips, err := c.hostIPs(ctx)
	if err != nil {
		return failBefore(fmt.Errorf("controller: enable %s: %w", aggregateID, err))
	}
	leaderIP, ok := ips[topo.Leader]
	if !ok {
		return failBefore(haerrors.Wrap(haerrors.ErrHostNotFound, topo.Leader))
	}

	var compensators []compensator
	rollbackAttached := func(cause error) error {
		for i := len(compensators) - 1; i >= 0; i-- {
			if cErr := compensators[i](ctx); cErr != nil {
				c.Logger.Warn().Err(cErr).Str("aggregate", aggregateID).Msg("enable rollback compensator failed")
			}
		}
		if recordExists {
			// The attempted roles are already detached above; teardown
			// still needs to run to settle the record's task_state and
			// enabled flag, over an empty host list so it does not try to
			// detach them a second time.
			if err := c.teardown(ctx, existing, nil, false); err != nil {
				c.Logger.Warn().Err(err).Str("aggregate", aggregateID).Msg("enable rollback disable failed")
			}
		}
		metrics.EnableFailuresTotal.Inc()
		return cause
	}

	serverHosts := append([]string{topo.Leader}, topo.Servers...)
	for _, h := range serverHosts {
		attachTimer := metrics.NewTimer()
		err := c.Roles.Attach(ctx, h, role.AttachSpec{Role: types.RoleServer, JoinIP: leaderIP, HostIP: ips[h], BootstrapExpect: types.BootstrapExpect(types.RoleServer)})
		attachTimer.ObserveDuration(metrics.RoleAttachDuration)
		if err != nil {
			return rollbackAttached(fmt.Errorf("controller: enable %s: attach server role on %s: %w", aggregateID, h, err))
		}
		host := h
		compensators = append(compensators, func(ctx context.Context) error {
			return c.Roles.Detach(ctx, host, types.RoleServer)
		})
	}
	for _, h := range topo.Agents {
		attachTimer := metrics.NewTimer()
		err := c.Roles.Attach(ctx, h, role.AttachSpec{Role: types.RoleAgent, JoinIP: leaderIP, HostIP: ips[h], BootstrapExpect: types.BootstrapExpect(types.RoleAgent)})
		attachTimer.ObserveDuration(metrics.RoleAttachDuration)
		if err != nil {
			return rollbackAttached(fmt.Errorf("controller: enable %s: attach agent role on %s: %w", aggregateID, h, err))
		}
		host := h
		compensators = append(compensators, func(ctx context.Context) error {
			return c.Roles.Detach(ctx, host, types.RoleAgent)
		})
	}

	record, err := c.Store.CreateIfAbsent(aggregateID, types.TaskStateCreating)
	if err != nil {
		return rollbackAttached(fmt.Errorf("controller: enable %s: creating record: %w", aggregateID, err))
	}

	if err := c.Segments.CreateSegment(ctx, aggregateID, chosen); err != nil {
		return c.rollbackAfterRecord(ctx, record, chosen, fmt.Errorf("controller: enable %s: create segment: %w", aggregateID, err))
	}

	if err := c.Store.SetEnabled(record.ID, true); err != nil {
		return c.rollbackAfterRecord(ctx, record, chosen, fmt.Errorf("controller: enable %s: %w", aggregateID, err))
	}
	if err := c.Store.SetTaskState(record.ID, types.TaskStateCompleted); err != nil {
		return c.rollbackAfterRecord(ctx, record, chosen, fmt.Errorf("controller: enable %s: %w", aggregateID, err))
	}

	return nil
}

// rollbackAfterRecord implements the enable rollback described in spec.md
// §4.6.1: once the cluster record exists, a failure triggers an inline
// disable (synchronize=false) over the hosts chosen for this enable
// attempt, and the original error is re-raised regardless of the
// rollback's own outcome.
func (c *Controller) rollbackAfterRecord(ctx context.Context, record *types.Cluster, hosts []string, cause error) error {
	if err := c.teardown(ctx, record, hosts, false); err != nil {
		c.Logger.Warn().Err(err).Str("aggregate", record.Name).Msg("enable rollback disable failed")
	}
	metrics.EnableFailuresTotal.Inc()
	return cause
}

// Disable implements spec.md §4.6.2.
func (c *Controller) Disable(ctx context.Context, aggregateID string, synchronize bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DisableDuration)

	record, err := c.Store.Get(aggregateID)
	if err != nil {
		if errors.Is(err, haerrors.ErrNotFound) {
			_ = c.Segments.DeleteSegment(ctx, aggregateID)
			return nil
		}
		return fmt.Errorf("controller: disable %s: %w", aggregateID, err)
	}

	if err := c.Store.CompareAndSetTaskState(record.ID, types.TaskStateCompleted, types.TaskStateRemoving); err != nil {
		if !haerrors.IsClusterBusy(err) {
			return fmt.Errorf("controller: disable %s: %w", aggregateID, err)
		}
		// COMPLETED was not the current state; ERROR_REMOVING also permits
		// disable (to retry cleanup after a prior failure).
		if err := c.Store.CompareAndSetTaskState(record.ID, types.TaskStateErrorRemoving, types.TaskStateRemoving); err != nil {
			return err
		}
	}

	hosts, err := c.segmentHosts(ctx, record.Name)
	if err != nil {
		return fmt.Errorf("controller: disable %s: %w", aggregateID, err)
	}

	return c.teardown(ctx, record, hosts, synchronize)
}

// teardown performs steps 3-8 of spec.md §4.6.2 against an explicit host
// list, shared by the public Disable path (hosts read from the segment)
// and the enable-rollback path (hosts chosen for the failed enable
// attempt).
func (c *Controller) teardown(ctx context.Context, record *types.Cluster, hosts []string, synchronize bool) error {
	if err := c.Store.SetTaskState(record.ID, types.TaskStateRemoving); err != nil {
		return fmt.Errorf("controller: disable %s: %w", record.Name, err)
	}

	if err := c.Segments.DeleteSegment(ctx, record.Name); err != nil {
		return c.fail(record, fmt.Errorf("controller: disable %s: delete segment: %w", record.Name, err))
	}

	roles, err := rolesForHosts(hosts)
	if err != nil {
		return c.fail(record, fmt.Errorf("controller: disable %s: %w", record.Name, err))
	}

	var detachErrs []error
	for host, r := range roles {
		detachTimer := metrics.NewTimer()
		err := c.Roles.Detach(ctx, host, r)
		detachTimer.ObserveDuration(metrics.RoleDetachDuration)
		if err != nil {
			detachErrs = append(detachErrs, fmt.Errorf("detach %s on %s: %w", r, host, err))
		}
	}
	if len(detachErrs) > 0 {
		return c.fail(record, fmt.Errorf("controller: disable %s: %w", record.Name, errors.Join(detachErrs...)))
	}

	if synchronize {
		var waitErrs []error
		for host, r := range roles {
			if err := c.Roles.WaitForRemoval(ctx, host, r); err != nil {
				waitErrs = append(waitErrs, fmt.Errorf("wait for removal on %s: %w", host, err))
			}
		}
		if len(waitErrs) > 0 {
			return c.fail(record, fmt.Errorf("controller: disable %s: %w", record.Name, errors.Join(waitErrs...)))
		}
	}

	if err := c.Store.SetEnabled(record.ID, false); err != nil {
		return c.fail(record, fmt.Errorf("controller: disable %s: %w", record.Name, err))
	}
	if err := c.Store.SetTaskState(record.ID, types.TaskStateCompleted); err != nil {
		return c.fail(record, fmt.Errorf("controller: disable %s: %w", record.Name, err))
	}
	return nil
}

// fail marks record ERROR_REMOVING and returns cause. Per spec.md §9 Design
// Note (c), this is the only state write on the failure branch — no
// intermediate COMPLETED write precedes it.
func (c *Controller) fail(record *types.Cluster, cause error) error {
	if err := c.Store.SetTaskState(record.ID, types.TaskStateErrorRemoving); err != nil {
		c.Logger.Error().Err(err).Str("aggregate", record.Name).Msg("failed to mark cluster error_removing")
	}
	return cause
}

// segmentHosts lists the hosts currently in aggregateID's segment. A
// missing segment (nothing left to tear down) is treated as an empty list.
func (c *Controller) segmentHosts(ctx context.Context, name string) ([]string, error) {
	members, err := c.Segments.ListHostsInSegment(ctx, name)
	if err != nil {
		if errors.Is(err, haerrors.ErrSegmentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	hosts := make([]string, 0, len(members))
	for _, m := range members {
		hosts = append(hosts, m.Host)
	}
	return hosts, nil
}

// rolesForHosts recomputes which role each host was attached under, using
// the same deterministic plan enable used to assign them. The cluster
// record does not itself persist per-host roles.
func rolesForHosts(hosts []string) (map[string]types.Role, error) {
	assignment := make(map[string]types.Role, len(hosts))
	if len(hosts) == 0 {
		return assignment, nil
	}

	topo, err := topology.Plan(hosts)
	if err != nil {
		return nil, err
	}
	assignment[topo.Leader] = types.RoleServer
	for _, h := range topo.Servers {
		assignment[h] = types.RoleServer
	}
	for _, h := range topo.Agents {
		assignment[h] = types.RoleAgent
	}
	return assignment, nil
}

// hostIPs resolves every hypervisor's management IP, keyed by host name.
func (c *Controller) hostIPs(ctx context.Context) (map[string]string, error) {
	hypervisors, err := c.Inventory.ListHypervisors(ctx)
	if err != nil {
		return nil, err
	}
	ips := make(map[string]string, len(hypervisors))
	for _, h := range hypervisors {
		ips[h.Host] = h.IP
	}
	return ips, nil
}
