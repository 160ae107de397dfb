package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet state
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusterscaler_nodes_total",
			Help: "Total number of non-terminated nodes by node type and status",
		},
		[]string{"node_type", "status"},
	)

	PendingLaunchesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clusterscaler_pending_launches_total",
			Help: "Nodes requested from the provider but not yet visible as non-terminated",
		},
		[]string{"node_type"},
	)

	// Launcher
	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterscaler_launches_total",
			Help: "Total nodes launched by node type",
		},
		[]string{"node_type"},
	)

	LaunchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterscaler_launch_failures_total",
			Help: "Total launch requests that failed at the provider",
		},
		[]string{"node_type"},
	)

	LaunchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterscaler_launch_queue_depth",
			Help: "Current depth of the launch request queue",
		},
	)

	LaunchQueueDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_launch_queue_dropped_total",
			Help: "Launch requests dropped because the queue was full",
		},
	)

	// Termination
	TerminationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clusterscaler_terminations_total",
			Help: "Total nodes terminated by reason",
		},
		[]string{"reason"},
	)

	// Updater
	UpdaterSuccessTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_updater_success_total",
			Help: "Total node updates that completed successfully",
		},
	)

	UpdaterFailureTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_updater_failure_total",
			Help: "Total node updates that failed",
		},
	)

	UpdaterRecoveryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_updater_recovery_total",
			Help: "Total node updates run in recovery mode",
		},
	)

	UpdaterDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterscaler_updater_duration_seconds",
			Help:    "Wall time for a node update sequence to complete",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Scheduler
	UnfulfilledDemandBundles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clusterscaler_unfulfilled_demand_bundles",
			Help: "Resource demand bundles left unplaced after the last scheduling pass",
		},
	)

	SchedulingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterscaler_scheduling_duration_seconds",
			Help:    "Time taken to run one resource-demand scheduling pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clusterscaler_reconciliation_duration_seconds",
			Help:    "Time taken for a full reconciler tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_reconciliation_cycles_total",
			Help: "Total reconciler ticks completed",
		},
	)

	ReconciliationTicksSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clusterscaler_reconciliation_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		PendingLaunchesTotal,
		LaunchesTotal,
		LaunchFailuresTotal,
		LaunchQueueDepth,
		LaunchQueueDroppedTotal,
		TerminationsTotal,
		UpdaterSuccessTotal,
		UpdaterFailureTotal,
		UpdaterRecoveryTotal,
		UpdaterDuration,
		UnfulfilledDemandBundles,
		SchedulingDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciliationTicksSkippedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing the elapsed
// duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
