// Package metrics defines the Prometheus metrics exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets spans quick expressions through package installs that
// approach the maximum timeout.
var ExecutionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

var (
	// ExecutionsTotal counts dispatched executions by outcome
	// (success, failure, timeout, interrupted, invalid).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_executions_total",
			Help: "Executions by outcome",
		},
		[]string{"status"},
	)

	// ExecutionDuration records wall-clock time per execution in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pysandbox_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"status"},
	)

	// ContextLaunches counts isolated interpreters started.
	ContextLaunches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pysandbox_context_launches_total",
			Help: "Isolated contexts launched",
		},
	)

	// ContextTeardowns counts isolated interpreters destroyed, by reason.
	ContextTeardowns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pysandbox_context_teardowns_total",
			Help: "Isolated contexts torn down",
		},
		[]string{"reason"},
	)

	// WorkersBusy tracks worker units currently running a request.
	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pysandbox_workers_busy",
			Help: "Worker units running a request",
		},
	)

	// RequirementsRequested counts requirements handed to the installer.
	RequirementsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pysandbox_requirements_requested_total",
			Help: "Requirements requested for installation",
		},
	)
)

// Teardown reasons.
const (
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonChannel   = "channel_error"
	ReasonShutdown  = "shutdown"
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ContextLaunches,
		ContextTeardowns,
		WorkersBusy,
		RequirementsRequested,
	)
}
