package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the remediation loop.
type Metrics struct {
	IterationsTotal *prometheus.CounterVec
	SkipsTotal      *prometheus.CounterVec
	PassesTotal     prometheus.Counter
	AttemptDuration *prometheus.HistogramVec

	DegradedProbesTotal prometheus.Counter
	Diagnostics         prometheus.Gauge
}

// NewMetrics creates and registers the loop's Prometheus metrics.
//
// sync.Once guards registration so repeated construction cannot panic with
// a duplicate collector.
//
// Metrics:
//   - remend_iterations_total{fixer,outcome} - fixer attempts by outcome
//   - remend_fixer_skips_total{fixer,reason} - fixers skipped per pass
//   - remend_passes_total - completed passes
//   - remend_attempt_duration_seconds{fixer} - attempt wall time
//   - remend_degraded_probes_total - probes that fell back to the sentinel
//   - remend_diagnostics - most recently measured total
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			IterationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remend_iterations_total",
					Help: "Total fixer attempts by outcome",
				},
				[]string{"fixer", "outcome"}, // "accepted" or "reverted"
			),

			SkipsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "remend_fixer_skips_total",
					Help: "Total fixers skipped within a pass",
				},
				[]string{"fixer", "reason"}, // "converged" or "checkpoint_error"
			),

			PassesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "remend_passes_total",
					Help: "Total completed passes over the fixer registry",
				},
			),

			AttemptDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "remend_attempt_duration_seconds",
					Help:    "Wall time of one fixer attempt including probes",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
				},
				[]string{"fixer"},
			),

			DegradedProbesTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "remend_degraded_probes_total",
					Help: "Total probe reads that degraded to the sentinel total",
				},
			),

			Diagnostics: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "remend_diagnostics",
					Help: "Most recently measured total diagnostic count",
				},
			),
		}
	})

	return globalMetrics
}

// RecordIteration records one attempt's outcome and duration.
func (m *Metrics) RecordIteration(fixer, outcome string, durationSeconds float64) {
	m.IterationsTotal.WithLabelValues(fixer, outcome).Inc()
	m.AttemptDuration.WithLabelValues(fixer).Observe(durationSeconds)
}

// RecordSkip records a fixer skipped within a pass.
func (m *Metrics) RecordSkip(fixer, reason string) {
	m.SkipsTotal.WithLabelValues(fixer, reason).Inc()
}

// RecordPass records a completed pass.
func (m *Metrics) RecordPass() {
	m.PassesTotal.Inc()
}

// RecordDegradedProbe records a probe that fell back to the sentinel.
func (m *Metrics) RecordDegradedProbe() {
	m.DegradedProbesTotal.Inc()
}

// SetDiagnostics updates the current total gauge.
func (m *Metrics) SetDiagnostics(total int) {
	m.Diagnostics.Set(float64(total))
}
