package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Engine outcomes, labelled by operation and error code ("ok" on success)
	BookingOperations      *prometheus.CounterVec
	NegotiationOperations  *prometheus.CounterVec
	AvailabilityOperations *prometheus.CounterVec
	OperationLatency       *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec
	RateLimitFallbacks prometheus.Counter

	// Housekeeping worker metrics
	WorkerRuns          *prometheus.CounterVec
	WorkerItemsAffected *prometheus.CounterVec
	WorkerLastRun       prometheus.Gauge

	// Outbox relay metrics
	OutboxPublished *prometheus.CounterVec
	OutboxFailures  *prometheus.CounterVec
}

// NewMetrics creates all application metrics on reg. Passing a fresh
// prometheus.NewRegistry keeps tests independent of the global registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BookingOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Total number of booking engine operations by outcome",
		}, []string{"operation", "outcome"}),
		NegotiationOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "negotiation",
			Name:      "operations_total",
			Help:      "Total number of change negotiation operations by outcome",
		}, []string{"operation", "outcome"}),
		AvailabilityOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "availability",
			Name:      "operations_total",
			Help:      "Total number of availability operations by outcome",
		}, []string{"operation", "outcome"}),
		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of scheduling operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limiter decisions",
		}, []string{"decision"}),
		RateLimitFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "fallbacks_total",
			Help:      "Requests decided by the local limiter because redis was unavailable",
		}),

		WorkerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Housekeeping runs by task and status",
		}, []string{"task", "status"}),
		WorkerItemsAffected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "items_affected_total",
			Help:      "Rows changed by housekeeping tasks",
		}, []string{"task"}),
		WorkerLastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed housekeeping run",
		}),

		OutboxPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events handed to the broker",
		}, []string{"event_type"}),
		OutboxFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "failures_total",
			Help:      "Outbox events the broker refused",
		}, []string{"event_type"}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry(), "test")
}
