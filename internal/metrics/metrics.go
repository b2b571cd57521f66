// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reportsTotal         *prometheus.CounterVec
	holdingsTotal        prometheus.Counter
	fetchDurationSeconds prometheus.Histogram
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		reportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filings_reports_total",
				Help: "Total number of report work items processed, labeled by outcome.",
			},
			[]string{"status"},
		)

		holdingsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "filings_holdings_total",
				Help: "Total number of holding rows submitted to the store.",
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filings_fetch_duration_seconds",
				Help:    "Histogram of per-report fetch/parse latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "filings_active_workers",
				Help: "Number of pool workers currently processing a report.",
			},
		)
	})
}

// ReportProcessed counts one work-item outcome (scraped, skipped, failed).
func ReportProcessed(status string) {
	if reportsTotal == nil {
		return
	}
	reportsTotal.WithLabelValues(status).Inc()
}

// HoldingsSubmitted counts holding rows handed to the store.
func HoldingsSubmitted(n int) {
	if holdingsTotal == nil {
		return
	}
	holdingsTotal.Add(float64(n))
}

// ObserveFetchDuration records one fetch/parse latency.
func ObserveFetchDuration(d time.Duration) {
	if fetchDurationSeconds == nil {
		return
	}
	fetchDurationSeconds.Observe(d.Seconds())
}

// WorkerStarted increments the active-workers gauge.
func WorkerStarted() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Inc()
}

// WorkerStopped decrements the active-workers gauge.
func WorkerStopped() {
	if activeWorkers == nil {
		return
	}
	activeWorkers.Dec()
}
