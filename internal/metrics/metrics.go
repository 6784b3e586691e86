package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portera",
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Completed ledger entries by type.",
	}, []string{"type"})

	releaseRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portera",
		Subsystem: "escrow",
		Name:      "release_runs_total",
		Help:      "Escrow release runs by outcome.",
	}, []string{"outcome"})

	ordersReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portera",
		Subsystem: "escrow",
		Name:      "orders_released_total",
		Help:      "Orders whose escrowed funds were released.",
	})

	orderReleaseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portera",
		Subsystem: "escrow",
		Name:      "order_release_errors_total",
		Help:      "Per-order release failures recorded during runs.",
	})

	releaseRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "portera",
		Subsystem: "escrow",
		Name:      "release_run_duration_seconds",
		Help:      "Wall time of an escrow release run.",
		Buckets:   prometheus.DefBuckets,
	})
)

// LedgerEntryApplied counts one completed posting.
func LedgerEntryApplied(entryType string) {
	ledgerEntriesTotal.WithLabelValues(entryType).Inc()
}

// ReleaseRunCompleted records the outcome and duration of one run.
func ReleaseRunCompleted(outcome string, released, failed int, elapsed time.Duration) {
	releaseRunsTotal.WithLabelValues(outcome).Inc()
	ordersReleasedTotal.Add(float64(released))
	orderReleaseErrorsTotal.Add(float64(failed))
	releaseRunDuration.Observe(elapsed.Seconds())
}
