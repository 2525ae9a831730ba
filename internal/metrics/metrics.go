// Package metrics exposes Prometheus collectors for the check engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitepulse"

// Probe metrics
var (
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "checks_total",
			Help:      "Probe outcomes by result and error kind",
		},
		[]string{"result", "kind"},
	)

	ProbeFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "fallback_total",
			Help:      "Fallback probe attempts by result",
		},
		[]string{"result"},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "duration_seconds",
			Help:      "Wall time of a full probe including fallback",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
	)
)

// Engine metrics
var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Status changes committed by the scheduler",
		},
		[]string{"from", "to"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "confirmations_total",
			Help:      "Confirmation re-probes by result",
		},
		[]string{"result"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Time to process one scheduler batch",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ChecksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "checks_skipped_total",
			Help:      "Monitor checks skipped because the previous check was still running",
		},
	)

	CheckPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "check_panics_total",
			Help:      "Per-monitor checks that panicked and were recovered",
		},
	)

	Monitors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "monitors",
			Help:      "Monitors by current status",
		},
		[]string{"status"},
	)
)

// Alert metrics
var (
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Alert deliveries by event kind, channel and result",
		},
		[]string{"kind", "channel", "result"},
	)
)

// Storage metrics
var (
	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "failures_total",
			Help:      "Failed load/save operations by operation",
		},
		[]string{"op"},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter",
		},
	)
)

func boolResult(ok bool) string {
	if ok {
		return "ok"
	}
	return "fail"
}

// ObserveAlert records one delivery attempt.
func ObserveAlert(kind, channel string, ok bool) {
	AlertsTotal.WithLabelValues(kind, channel, boolResult(ok)).Inc()
}

func ObserveFallback(ok bool) {
	ProbeFallbackTotal.WithLabelValues(boolResult(ok)).Inc()
}

func ObserveConfirmation(ok bool) {
	ConfirmationsTotal.WithLabelValues(boolResult(ok)).Inc()
}
