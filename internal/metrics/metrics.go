// Package metrics exposes Prometheus collectors for the tutoring service.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_flow_duration_seconds",
			Help:    "Model flow duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"flow", "status"},
	)

	flowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_flow_total",
			Help: "Total number of model flow invocations",
		},
		[]string{"flow", "status"}, // status: "success"/"invalid_input"/"backend_error"/"contract_error"
	)

	rateLimiterWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studio_rate_limiter_wait_duration_seconds",
			Help:    "Time spent waiting for the model rate limiter",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
	)

	duplicateHints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_duplicate_hints_total",
			Help: "Hints that closely matched a hint already given in the session",
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_active_sessions",
			Help: "Sessions currently held in memory",
		},
	)

	liveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studio_live_connections",
			Help: "Open live session websocket connections",
		},
	)

	persistenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_persistence_writes_total",
			Help: "Session document writes by operation",
		},
		[]string{"op", "status"},
	)
)

// Collector provides convenience methods for recording metrics.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger}
}

// RecordFlow records one model flow invocation.
func (c *Collector) RecordFlow(flow, status string, duration time.Duration) {
	flowDuration.WithLabelValues(flow, status).Observe(duration.Seconds())
	flowTotal.WithLabelValues(flow, status).Inc()
}

// RecordRateLimiterWait records time spent blocked on the model rate limiter.
func (c *Collector) RecordRateLimiterWait(duration time.Duration) {
	rateLimiterWait.Observe(duration.Seconds())
	if duration > time.Second {
		c.logger.Debug("Rate limiter delayed model call", "wait", duration)
	}
}

// RecordDuplicateHint counts a hint that repeated an earlier one.
func (c *Collector) RecordDuplicateHint() {
	duplicateHints.Inc()
}

// SetActiveSessions sets the in-memory session gauge.
func (c *Collector) SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// LiveConnectionOpened increments the live connection gauge.
func (c *Collector) LiveConnectionOpened() {
	liveConnections.Inc()
}

// LiveConnectionClosed decrements the live connection gauge.
func (c *Collector) LiveConnectionClosed() {
	liveConnections.Dec()
}

// RecordWrite records a session document write.
func (c *Collector) RecordWrite(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	persistenceWrites.WithLabelValues(op, status).Inc()
}
