package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for session orchestration.
var (
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_sessions_total",
		Help: "Total finished sessions by handler and terminal state",
	}, []string{"handler", "state"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchsync_sessions_active",
		Help: "Number of sessions currently running",
	})

	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_batches_total",
		Help: "Total accounted batches by handler",
	}, []string{"handler"})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchsync_items_total",
		Help: "Total items by handler and outcome",
	}, []string{"handler", "status"}) // "processed", "failed"

	batchRoundTrip = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchsync_batch_round_trip_seconds",
		Help:    "Batch dispatch round-trip duration in seconds by handler",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"handler"})
)
