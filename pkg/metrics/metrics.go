package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hamgr_clusters_total",
			Help: "Total number of clusters by task state",
		},
		[]string{"task_state"},
	)

	HostsDownTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hamgr_hosts_down_tracked",
			Help: "Number of hosts in the per-cluster hosts-down tracker, by reported status",
		},
		[]string{"cluster_id", "reported"},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hamgr_reconciliation_duration_seconds",
			Help:    "Time taken for a drift-reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hamgr_reconciliation_cycles_total",
			Help: "Total number of drift-reconciliation cycles completed",
		},
	)

	ReconciliationReshapesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hamgr_reconciliation_reshapes_total",
			Help: "Total number of clusters reshaped by the drift reconciler, by outcome",
		},
		[]string{"outcome"},
	)

	// Enable/disable metrics
	EnableDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hamgr_enable_duration_seconds",
			Help:    "Time taken to enable HA on a cluster in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	DisableDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hamgr_disable_duration_seconds",
			Help:    "Time taken to disable HA on a cluster in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EnableFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hamgr_enable_failures_total",
			Help: "Total number of enable operations that rolled back",
		},
	)

	// Role client metrics
	RoleAttachDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hamgr_role_attach_duration_seconds",
			Help:    "Time taken to attach a role to a host, including conflict retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	RoleDetachDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hamgr_role_detach_duration_seconds",
			Help:    "Time taken to detach a role from a host, including conflict retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Host-down coordinator metrics
	HostDownEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hamgr_host_down_events_total",
			Help: "Total number of host-down events processed",
		},
	)

	HostUpEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hamgr_host_up_events_total",
			Help: "Total number of host-up events processed",
		},
	)

	QuorumReshapesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hamgr_quorum_reshapes_total",
			Help: "Total number of cluster reshapes triggered by the host-down quorum gate",
		},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(HostsDownTracked)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationReshapesTotal)
	prometheus.MustRegister(EnableDuration)
	prometheus.MustRegister(DisableDuration)
	prometheus.MustRegister(EnableFailuresTotal)
	prometheus.MustRegister(RoleAttachDuration)
	prometheus.MustRegister(RoleDetachDuration)
	prometheus.MustRegister(HostDownEventsTotal)
	prometheus.MustRegister(HostUpEventsTotal)
	prometheus.MustRegister(QuorumReshapesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
