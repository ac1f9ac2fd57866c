// Package reconciler implements the Drift Reconciler: a periodic task that
// compares aggregate membership against segment membership and reshapes a
// cluster's topology to converge on what the administrator declared.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/hamgr/pkg/controller"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/inventory"
	"github.com/cuemby/hamgr/pkg/log"
	"github.com/cuemby/hamgr/pkg/metrics"
	"github.com/cuemby/hamgr/pkg/segment"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the tick period used when Interval is unset.
const DefaultInterval = 120 * time.Second

// Reconciler periodically reshapes every active cluster to match its
// aggregate's current membership.
type Reconciler struct {
	Store     store.Store
	Inventory inventory.Client
	Segments  segment.Client
	Ctrl      *controller.Controller
	Interval  time.Duration
	Logger    zerolog.Logger

	stopCh chan struct{}
}

// New builds a Reconciler over the given collaborators.
func New(s store.Store, inv inventory.Client, segments segment.Client, ctrl *controller.Controller, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		Store:     s,
		Inventory: inv,
		Segments:  segments,
		Ctrl:      ctrl,
		Interval:  interval,
		Logger:    log.WithComponent("reconciler"),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the reconciliation loop in its own goroutine, ticking
// immediately and then every Interval until Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run(ctx context.Context) {
	r.Logger.Info().Dur("interval", r.Interval).Msg("drift reconciler started")

	r.tick(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick(ctx)
		case <-r.stopCh:
			r.Logger.Info().Msg("drift reconciler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one reconciliation cycle over every active cluster, fanning
// per-cluster work out with a bounded errgroup so one bad cluster can never
// stall or break the rest of the fleet.
func (r *Reconciler) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	active, err := r.Store.GetAllActive()
	if err != nil {
		r.Logger.Error().Err(err).Msg("failed to list active clusters")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, cluster := range active {
		cluster := cluster
		g.Go(func() error {
			r.reconcileOne(gctx, cluster)
			return nil
		})
	}
	_ = g.Wait()
}

// reconcileOne applies spec.md §4.7 steps 1-7 to a single cluster.
func (r *Reconciler) reconcileOne(ctx context.Context, cluster *types.Cluster) {
	aggregate, err := r.Inventory.GetAggregate(ctx, cluster.Name)
	if err != nil {
		r.Logger.Error().Err(err).Str("cluster", cluster.Name).Msg("reconcile: failed to read aggregate membership")
		metrics.ReconciliationReshapesTotal.WithLabelValues("error").Inc()
		return
	}

	segmentMembers, err := r.Segments.ListHostsInSegment(ctx, cluster.Name)
	if err != nil {
		if errors.Is(err, haerrors.ErrSegmentNotFound) {
			r.Logger.Info().Str("cluster", cluster.Name).Msg("reconcile: segment absent, skipping")
			return
		}
		r.Logger.Error().Err(err).Str("cluster", cluster.Name).Msg("reconcile: failed to read segment membership")
		metrics.ReconciliationReshapesTotal.WithLabelValues("error").Inc()
		return
	}
	inSegment := make(map[string]bool, len(segmentMembers))
	for _, m := range segmentMembers {
		inSegment[m.Host] = true
	}

	var up, down []string
	for _, h := range aggregate.Hosts {
		state, err := r.Inventory.ServiceState(ctx, h)
		if err != nil || state != types.HostUp {
			down = append(down, h)
			continue
		}
		up = append(up, h)
	}

	var newHosts, activeHosts, inactiveHosts []string
	for _, h := range up {
		if inSegment[h] {
			activeHosts = append(activeHosts, h)
		} else {
			newHosts = append(newHosts, h)
		}
	}
	for _, h := range down {
		if inSegment[h] {
			inactiveHosts = append(inactiveHosts, h)
		}
		// M_down \ S is ignored: not a member from the HA service's view.
	}

	if len(newHosts) == 0 {
		return
	}
	if len(inactiveHosts) > 0 || cluster.TaskState == types.TaskStateMigrating || cluster.TaskState == types.TaskStateUpdating {
		r.Logger.Debug().Str("cluster", cluster.Name).Msg("reconcile: deferring, cluster incomplete or mid-transition")
		return
	}

	desired := append(append([]string{}, activeHosts...), newHosts...)

	if err := r.Ctrl.Disable(ctx, cluster.Name, true); err != nil {
		if haerrors.IsClusterBusy(err) {
			return
		}
		r.Logger.Error().Err(err).Str("cluster", cluster.Name).Msg("reconcile: reshape disable failed")
		metrics.ReconciliationReshapesTotal.WithLabelValues("error").Inc()
		return
	}
	if err := r.Ctrl.Enable(ctx, cluster.Name, desired); err != nil {
		if haerrors.IsClusterBusy(err) {
			return
		}
		r.Logger.Error().Err(err).Str("cluster", cluster.Name).Msg("reconcile: reshape enable failed")
		metrics.ReconciliationReshapesTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.ReconciliationReshapesTotal.WithLabelValues("reshaped").Inc()
}
