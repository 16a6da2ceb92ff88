// Package main generates sample remend metrics for testing Grafana
// dashboards without running real remediation. It simulates runs whose
// diagnostic total decays as fixer attempts land, with occasional
// reverted attempts and degraded probes mixed in.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// The metric set mirrors internal/orchestrator exactly, so dashboards
// built against this generator work unchanged against a live run.
var (
	iterationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remend_iterations_total",
			Help: "Fixer attempts by outcome",
		},
		[]string{"fixer", "outcome"},
	)
	skipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remend_fixer_skips_total",
			Help: "Fixers skipped per pass",
		},
		[]string{"fixer", "reason"},
	)
	passesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remend_passes_total",
			Help: "Completed passes",
		},
	)
	attemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remend_attempt_duration_seconds",
			Help:    "Attempt wall time",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"fixer"},
	)
	degradedProbesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "remend_degraded_probes_total",
			Help: "Probes that fell back to the sentinel total",
		},
	)
	diagnostics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "remend_diagnostics",
			Help: "Most recently measured diagnostic total",
		},
	)
)

var fixers = []string{"clean-unused", "stub-unresolved", "pin-versions"}

func init() {
	prometheus.MustRegister(
		iterationsTotal,
		skipsTotal,
		passesTotal,
		attemptDuration,
		degradedProbesTotal,
		diagnostics,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	ctx, cancel := context.WithCancel(context.Background())
	go simulateRuns(ctx)

	http.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: ":" + port}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'remend-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// simulateRuns loops over synthetic remediation runs. Each run starts
// with a random diagnostic total and walks it down one attempt at a
// time, planting the occasional revert, skip, and degraded probe.
func simulateRuns(ctx context.Context) {
	for {
		total := rand.Intn(150) + 50
		diagnostics.Set(float64(total))

		for pass := 0; pass < 3 && total > 10; pass++ {
			for _, fixer := range fixers {
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}

				switch {
				case rand.Float64() < 0.10:
					skipsTotal.WithLabelValues(fixer, skipReason()).Inc()
					continue
				case rand.Float64() < 0.15:
					// A bad attempt: the total would have risen, so it
					// was rolled back and the gauge stays put.
					iterationsTotal.WithLabelValues(fixer, "reverted").Inc()
					attemptDuration.WithLabelValues(fixer).Observe(randomDuration())
					continue
				}

				fixed := rand.Intn(20) + 1
				if fixed > total {
					fixed = total
				}
				total -= fixed
				diagnostics.Set(float64(total))
				iterationsTotal.WithLabelValues(fixer, "accepted").Inc()
				attemptDuration.WithLabelValues(fixer).Observe(randomDuration())

				if rand.Float64() < 0.05 {
					degradedProbesTotal.Inc()
				}
			}
			passesTotal.Inc()
		}

		// Idle gap between runs.
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func skipReason() string {
	if rand.Float64() < 0.8 {
		return "converged"
	}
	return "checkpoint_error"
}

func randomDuration() float64 {
	return 0.1 + rand.Float64()*30
}
