package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_store_operations_total",
			Help: "Total number of store operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockindexer_store_operation_duration_seconds",
			Help:    "Duration of store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	blocksUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_store_blocks_upserted_total",
			Help: "Total number of block rows touched by upsert, by outcome",
		},
		[]string{"outcome"},
	)
)

func observeOp(operation string, start time.Time, err error) {
	opDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opsTotal.WithLabelValues(operation, outcome).Inc()
}

func observeUpsertOutcome(o UpsertOutcomeLabel) {
	blocksUpserted.WithLabelValues(string(o)).Inc()
}

type UpsertOutcomeLabel string

const (
	labelInserted  UpsertOutcomeLabel = "inserted"
	labelUpdated   UpsertOutcomeLabel = "updated"
	labelUnchanged UpsertOutcomeLabel = "unchanged"
)
