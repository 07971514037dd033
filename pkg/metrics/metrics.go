package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory gauges, refreshed once per tick from discovery output.
	ManifestationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockagent_manifestations_total",
			Help: "Number of datasets currently manifest (mounted) on this node",
		},
	)

	NonManifestDatasetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockagent_non_manifest_datasets_total",
			Help: "Number of datasets known cluster-wide but not manifest on this node",
		},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockagent_volumes_total",
			Help: "Total number of block device volumes visible to the configured provider",
		},
	)

	// Reconciliation (tick) metrics.
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockagent_reconciliation_duration_seconds",
			Help:    "Time taken for a full discover-plan-execute tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockagent_reconciliation_cycles_total",
			Help: "Total number of reconciliation ticks completed",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "blockagent_reconciliation_errors_total",
			Help: "Total number of reconciliation ticks that returned an error from discovery, planning, or execution",
		},
	)

	// Discovery phase metrics.
	DiscoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockagent_discovery_duration_seconds",
			Help:    "Time taken to discover local node state from the provider and host mount table",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Per-action-type execution metrics, labeled by the same action_type
	// strings used in structured logs (agent:blockdevice:create, etc).
	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockagent_action_duration_seconds",
			Help:    "Time taken to execute a single state-change action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_type"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockagent_actions_total",
			Help: "Total number of state-change actions executed, by action type and outcome",
		},
		[]string{"action_type", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(ManifestationsTotal)
	prometheus.MustRegister(NonManifestDatasetsTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(DiscoveryDuration)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(ActionsTotal)
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
