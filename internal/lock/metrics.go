package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_lock_acquire_attempts_total",
			Help: "Total number of advisory lock acquisition attempts",
		},
		[]string{"name"},
	)

	lockContendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_lock_contended_total",
			Help: "Total number of acquisition attempts that found the lock already held",
		},
		[]string{"name"},
	)

	lockHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockindexer_lock_held",
			Help: "Whether this instance currently holds the named lock (1) or not (0)",
		},
		[]string{"name"},
	)

	lockSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_lock_swept_rows_total",
			Help: "Total number of stale app_locks rows removed by the background sweeper",
		},
	)
)
