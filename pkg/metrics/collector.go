package metrics

import (
	"time"

	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
)

// Collector periodically samples the cluster store and updates the
// ClustersTotal gauge, so the fleet-wide task-state distribution is visible
// without waiting for a reconciliation cycle to touch every cluster.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(s store.Store) *Collector {
	return &Collector{
		store:  s,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	active, err := c.store.GetAllActive()
	if err != nil {
		return
	}

	counts := make(map[types.TaskState]int)
	for _, cluster := range active {
		counts[cluster.TaskState]++
	}

	for _, state := range []types.TaskState{
		types.TaskStateCompleted,
		types.TaskStateCreating,
		types.TaskStateUpdating,
		types.TaskStateMigrating,
		types.TaskStateRemoving,
		types.TaskStateErrorRemoving,
	} {
		ClustersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
