package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evm_bridge_attempts_total",
			Help: "Total number of bridge attempts by terminal state",
		}, []string{"outcome"})

	quoteBackendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evm_bridge_quote_backend_total",
			Help: "Total number of quotes served by pricing backend",
		}, []string{"backend"})

	preflightRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evm_bridge_preflight_rejections_total",
			Help: "Total number of batches rejected by simulation, by decoded reason",
		}, []string{"reason"})

	attemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evm_bridge_attempt_duration_seconds",
			Help:    "Time from request to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		})
)
