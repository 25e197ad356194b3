package gapdetector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gapsDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_gaps_detected_total",
			Help: "Total number of gap ranges returned by detection passes, including re-detections of already recorded gaps",
		},
	)

	gapsRepairedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_gaps_repaired_total",
			Help: "Total number of gaps successfully filled",
		},
	)

	gapsRepairFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_gaps_repair_failed_total",
			Help: "Total number of gap repair attempts that failed and returned to pending",
		},
	)

	gapsPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_gaps_purged_total",
			Help: "Total number of filled gap rows purged after the retention window",
		},
	)
)
