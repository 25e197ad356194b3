package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retryAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockindexer_retry_attempts",
			Help:    "Number of attempts a successful retryWithBackoff call took",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	retryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_retry_attempt_failures_total",
			Help: "Total number of individual attempt failures across all retryWithBackoff calls",
		},
	)
)
