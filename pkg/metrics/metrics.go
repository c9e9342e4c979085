package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	CandidatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oneiric_candidates_total",
			Help: "Total number of registered candidates by domain",
		},
		[]string{"domain"},
	)

	// Lifecycle metrics
	EntriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oneiric_lifecycle_entries_total",
			Help: "Total number of lifecycle entries by state",
		},
		[]string{"state"},
	)

	ResolveLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oneiric_resolve_latency_seconds",
			Help:    "Time taken to resolve a (domain,key) to a winning candidate",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	ActivateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oneiric_activate_duration_seconds",
			Help:    "Time taken to activate a lifecycle entry",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	SwapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_swaps_total",
			Help: "Total number of hot-swaps attempted by domain and outcome",
		},
		[]string{"domain", "outcome"}, // outcome: succeeded, rolled_back
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_health_checks_total",
			Help: "Total number of health probes by domain and result",
		},
		[]string{"domain", "result"}, // result: pass, fail
	)

	// Event dispatcher metrics
	EventDispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oneiric_event_dispatch_latency_seconds",
			Help:    "Time taken to dispatch an event to all matched handlers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	EventHandlerFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_event_handler_failures_total",
			Help: "Total number of event handler invocations that failed after retries",
		},
		[]string{"topic", "handler_key"},
	)

	// Workflow engine metrics
	WorkflowRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_workflow_runs_total",
			Help: "Total number of workflow runs by workflow key and final status",
		},
		[]string{"workflow_key", "status"},
	)

	WorkflowNodeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oneiric_workflow_node_latency_seconds",
			Help:    "Time taken for a single workflow node to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow_key", "node_key"},
	)

	// Remote manifest loader metrics
	ManifestSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_manifest_syncs_total",
			Help: "Total number of remote manifest sync attempts by outcome",
		},
		[]string{"outcome"}, // outcome: applied, rejected, circuit_open
	)

	ManifestSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oneiric_manifest_sync_duration_seconds",
			Help:    "Time taken for a remote manifest sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Notification router metrics
	NotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oneiric_notifications_sent_total",
			Help: "Total number of notifications routed by adapter key and outcome",
		},
		[]string{"adapter_key", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(CandidatesTotal)
	prometheus.MustRegister(EntriesTotal)
	prometheus.MustRegister(ResolveLatency)
	prometheus.MustRegister(ActivateDuration)
	prometheus.MustRegister(SwapsTotal)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(EventDispatchLatency)
	prometheus.MustRegister(EventHandlerFailuresTotal)
	prometheus.MustRegister(WorkflowRunsTotal)
	prometheus.MustRegister(WorkflowNodeLatency)
	prometheus.MustRegister(ManifestSyncsTotal)
	prometheus.MustRegister(ManifestSyncDuration)
	prometheus.MustRegister(NotificationsSentTotal)
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
