// Package hostdown implements the Host-Down Coordinator: it reacts to host
// up/down events by posting notifications and, once every currently-down
// host in a cluster has been explicitly reported, reshaping the cluster
// around its survivors.
package hostdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/hamgr/pkg/controller"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/inventory"
	"github.com/cuemby/hamgr/pkg/log"
	"github.com/cuemby/hamgr/pkg/metrics"
	"github.com/cuemby/hamgr/pkg/schedule"
	"github.com/cuemby/hamgr/pkg/segment"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/rs/zerolog"
)

// Coordinator owns the per-process hosts-down tracker and reacts to host
// up/down events. It holds no package-level state: every tracker lives as
// a field of a Coordinator value constructed once per process.
type Coordinator struct {
	Store      store.Store
	Inventory  inventory.Client
	Segments   segment.Client
	Controller *controller.Controller
	Scheduler  *schedule.Scheduler
	Logger     zerolog.Logger

	mu      sync.Mutex
	tracker map[string]map[string]bool // cluster name -> host -> reported
}

// New builds a Coordinator over the given collaborators.
func New(s store.Store, inv inventory.Client, segments segment.Client, ctrl *controller.Controller, sched *schedule.Scheduler) *Coordinator {
	return &Coordinator{
		Store:      s,
		Inventory:  inv,
		Segments:   segments,
		Controller: ctrl,
		Scheduler:  sched,
		Logger:     log.WithComponent("hostdown"),
		tracker:    make(map[string]map[string]bool),
	}
}

// HostDown handles a host-down event, per spec.md §4.8.
func (co *Coordinator) HostDown(ctx context.Context, host string, at time.Time) error {
	metrics.HostDownEventsTotal.Inc()

	cluster, err := co.locateCluster(ctx, host)
	if err != nil {
		return err
	}

	if err := co.Store.CompareAndSetTaskState(cluster.ID, types.TaskStateCompleted, types.TaskStateMigrating); err != nil {
		return err
	}

	if err := co.Segments.Notify(ctx, host, at, types.HostDownNotification()); err != nil {
		co.Logger.Warn().Err(err).Str("host", host).Str("cluster", cluster.Name).Msg("host-down notification failed")
	}

	co.Scheduler.AddTask(func() {
		if err := co.removeHostFromCluster(context.Background(), cluster.Name, host); err != nil {
			co.Logger.Error().Err(err).Str("host", host).Str("cluster", cluster.Name).Msg("remove_host_from_cluster failed")
		}
	}, 0, false, true)

	return nil
}

// HostUp handles a host-up event, per spec.md §4.8. The reconciler, not
// this coordinator, picks the host back up on its next tick.
func (co *Coordinator) HostUp(ctx context.Context, host string, at time.Time) error {
	metrics.HostUpEventsTotal.Inc()

	if err := co.Segments.Notify(ctx, host, at, types.HostUpNotification()); err != nil {
		co.Logger.Warn().Err(err).Str("host", host).Msg("host-up notification failed")
	}
	return nil
}

// removeHostFromCluster implements spec.md §4.8's remove_host_from_cluster.
func (co *Coordinator) removeHostFromCluster(ctx context.Context, clusterName, host string) error {
	record, err := co.Store.Get(clusterName)
	if err != nil {
		return err
	}
	if record.TaskState != types.TaskStateMigrating {
		return haerrors.NewClusterBusy(clusterName, string(record.TaskState))
	}

	// Release the MIGRATING reservation before any reshape attempt: the
	// controller's own CAS locking only recognizes COMPLETED/ERROR_REMOVING
	// as a starting state, and this unconditional settle also guarantees
	// the cluster never gets stuck MIGRATING if everything below fails.
	settled := false
	defer func() {
		if settled {
			return
		}
		if err := co.Store.SetTaskState(record.ID, types.TaskStateCompleted); err != nil {
			co.Logger.Error().Err(err).Str("cluster", clusterName).Msg("failed to settle task_state after host-down handling")
		}
	}()

	aggregate, err := co.Inventory.GetAggregate(ctx, clusterName)
	if err != nil {
		return fmt.Errorf("hostdown: %s: %w", clusterName, err)
	}

	segmentHosts, err := co.Segments.ListHostsInSegment(ctx, clusterName)
	if err != nil {
		return fmt.Errorf("hostdown: %s: %w", clusterName, err)
	}
	inSegment := make(map[string]bool, len(segmentHosts))
	for _, m := range segmentHosts {
		inSegment[m.Host] = true
	}

	down := make(map[string]bool)
	for _, h := range aggregate.Hosts {
		state, err := co.Inventory.ServiceState(ctx, h)
		if err != nil {
			continue
		}
		if state == types.HostDown {
			down[h] = true
		}
	}

	co.mu.Lock()
	clusterTracker, ok := co.tracker[clusterName]
	if !ok {
		clusterTracker = make(map[string]bool)
		co.tracker[clusterName] = clusterTracker
	}

	for h := range down {
		if inSegment[h] {
			if _, tracked := clusterTracker[h]; !tracked {
				clusterTracker[h] = false
			}
		}
	}
	for h := range clusterTracker {
		if !down[h] {
			delete(clusterTracker, h)
		}
	}
	clusterTracker[host] = true

	allReported := true
	for _, reported := range clusterTracker {
		if !reported {
			allReported = false
			break
		}
	}

	var survivors []string
	if allReported {
		for _, h := range aggregate.Hosts {
			if !clusterTracker[h] {
				survivors = append(survivors, h)
			}
		}
		co.tracker[clusterName] = make(map[string]bool)
	}
	co.reportTrackerSize(clusterName, clusterTracker)
	co.mu.Unlock()

	if !allReported {
		co.Logger.Info().Str("cluster", clusterName).Msg("hosts-down quorum not yet reached, waiting for further events")
		return nil
	}

	// Hand the record back to COMPLETED so the controller's own CAS gate
	// accepts the reshape; mark settled so the deferred fallback above
	// doesn't race a second write against it.
	if err := co.Store.SetTaskState(record.ID, types.TaskStateCompleted); err != nil {
		return fmt.Errorf("hostdown: %s: %w", clusterName, err)
	}
	settled = true

	metrics.QuorumReshapesTotal.Inc()
	if err := co.Controller.Disable(ctx, clusterName, true); err != nil && !haerrors.IsClusterBusy(err) {
		return fmt.Errorf("hostdown: %s: reshape disable: %w", clusterName, err)
	}
	if err := co.Controller.Enable(ctx, clusterName, survivors); err != nil && !haerrors.IsClusterBusy(err) {
		return fmt.Errorf("hostdown: %s: reshape enable: %w", clusterName, err)
	}
	return nil
}

func (co *Coordinator) reportTrackerSize(clusterName string, tracker map[string]bool) {
	reported, unreported := 0, 0
	for _, v := range tracker {
		if v {
			reported++
		} else {
			unreported++
		}
	}
	metrics.HostsDownTracked.WithLabelValues(clusterName, "true").Set(float64(reported))
	metrics.HostsDownTracked.WithLabelValues(clusterName, "false").Set(float64(unreported))
}

// locateCluster finds the active cluster record whose aggregate currently
// contains host.
func (co *Coordinator) locateCluster(ctx context.Context, host string) (*types.Cluster, error) {
	active, err := co.Store.GetAllActive()
	if err != nil {
		return nil, err
	}

	for _, cluster := range active {
		aggregate, err := co.Inventory.GetAggregate(ctx, cluster.Name)
		if err != nil {
			continue
		}
		for _, h := range aggregate.Hosts {
			if h == host {
				return cluster, nil
			}
		}
	}
	return nil, haerrors.Wrap(haerrors.ErrHostNotFound, host)
}
