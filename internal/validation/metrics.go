package validation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_validation_failures_total",
			Help: "Total number of blocks rejected at the schema validation boundary, labeled by failing field",
		},
		[]string{"field"},
	)

	validationBatchesPassed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_validation_batches_passed_total",
			Help: "Total number of batches that passed validation in full",
		},
	)
)
