package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_fetch_failures_total",
			Help: "Total number of individual block-header fetches that exhausted retries",
		},
	)

	batchesSucceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_batches_succeeded_total",
			Help: "Total number of batches synced and committed successfully",
		},
	)

	batchesFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_batches_failed_total",
			Help: "Total number of batches that failed at any phase of syncBatch",
		},
	)

	blocksSyncedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_blocks_synced_total",
			Help: "Total number of blocks persisted by the sync engine",
		},
	)

	reorgsHandledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_reorgs_handled_total",
			Help: "Total number of reorgs detected and applied by the sync engine",
		},
	)

	checkpointCASConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_checkpoint_cas_conflicts_total",
			Help: "Total number of checkpoint advance attempts that lost a compare-and-swap race",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockindexer_batch_duration_seconds",
			Help:    "Wall-clock duration of a single syncBatch call",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)
