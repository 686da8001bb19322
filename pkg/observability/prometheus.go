// Package observability provides Prometheus metrics for the volume daemon.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// namespace is the Prometheus metric namespace prefix for all volumed metrics.
	namespace = "volumed"
)

// Metrics holds all Prometheus metrics for the volume daemon.
type Metrics struct {
	registry *prometheus.Registry

	// Volume lifecycle metrics
	volumeOpsTotal    *prometheus.CounterVec
	volumeOpsDuration *prometheus.HistogramVec

	// Bridge process metrics
	bridgeSpawnsTotal   *prometheus.CounterVec
	bridgeReadyDuration prometheus.Histogram
	bridgesActive       prometheus.Gauge

	// Teardown metrics
	teardownStepFailuresTotal *prometheus.CounterVec

	// Post-mount hook metrics
	hookClaimsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
// Uses a custom registry to avoid panics on daemon restart (not DefaultRegistry).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		volumeOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "volume_operations_total",
				Help:      "Total number of volume operations by type and status",
			},
			[]string{"operation", "status"},
		),

		volumeOpsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "volume_operation_duration_seconds",
				Help:      "Duration of volume operations in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"operation"},
		),

		bridgeSpawnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_spawns_total",
				Help:      "Total number of bridge process spawn attempts by status",
			},
			[]string{"status"},
		),

		bridgeReadyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_ready_duration_seconds",
			Help:      "Time from bridge spawn until its mount became visible",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		bridgesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridges_active",
			Help:      "Number of currently running bridge processes",
		}),

		teardownStepFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "teardown_step_failures_total",
				Help:      "Total number of best-effort unmount step failures by step",
			},
			[]string{"step"},
		),

		hookClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "hook_claims_total",
				Help:      "Total number of post-mount trigger slots claimed by hook",
			},
			[]string{"hook"},
		),
	}

	// Register all metrics with the custom registry
	reg.MustRegister(
		m.volumeOpsTotal,
		m.volumeOpsDuration,
		m.bridgeSpawnsTotal,
		m.bridgeReadyDuration,
		m.bridgesActive,
		m.teardownStepFailuresTotal,
		m.hookClaimsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
// Use promhttp.HandlerFor with the custom registry for proper isolation.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordVolumeOp records a volume operation with timing.
// operation should be one of: create, destroy, mount, unmount, format.
func (m *Metrics) RecordVolumeOp(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.volumeOpsTotal.WithLabelValues(operation, status).Inc()
	m.volumeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBridgeSpawn records a bridge spawn attempt.
// On success (err == nil), also records the readiness latency and increments
// the active gauge.
func (m *Metrics) RecordBridgeSpawn(err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.bridgeSpawnsTotal.WithLabelValues(status).Inc()
	if err == nil {
		m.bridgeReadyDuration.Observe(duration.Seconds())
		m.bridgesActive.Inc()
	}
}

// RecordBridgeExit records that a bridge process was torn down.
func (m *Metrics) RecordBridgeExit() {
	m.bridgesActive.Dec()
}

// RecordTeardownStepFailure records a best-effort unmount step that failed.
// step should be one of: bridge, secure_stage, fuse_views, raw, rmdir, slots.
func (m *Metrics) RecordTeardownStepFailure(step string) {
	m.teardownStepFailuresTotal.WithLabelValues(step).Inc()
}

// RecordHookClaim records that a post-mount hook claimed its trigger slot.
func (m *Metrics) RecordHookClaim(hook string) {
	m.hookClaimsTotal.WithLabelValues(hook).Inc()
}
