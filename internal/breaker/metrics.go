package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions, labeled by breaker name and destination state",
		},
		[]string{"name", "state"},
	)

	breakerCurrentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockindexer_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
		[]string{"name"},
	)

	breakerRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockindexer_breaker_rejected_total",
			Help: "Total number of calls rejected by an OPEN or saturated HALF_OPEN breaker",
		},
		[]string{"name"},
	)
)
