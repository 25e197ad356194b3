package shutdown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shutdownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockindexer_shutdowns_total",
		Help: "Total number of graceful shutdown sequences started",
	})
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockindexer_shutdown_duration_seconds",
		Help:    "Wall-clock duration of a full shutdown sequence",
		Buckets: prometheus.DefBuckets,
	})
	handlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockindexer_shutdown_handler_duration_seconds",
		Help:    "Duration of an individual shutdown handler",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
	handlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockindexer_shutdown_handler_failures_total",
		Help: "Total number of shutdown handlers that returned an error",
	}, []string{"handler"})
)
