package ratelimiter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limiterTokensConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_ratelimiter_tokens_consumed_total",
			Help: "Total number of tokens consumed from the RPC rate limiter",
		},
	)

	limiterThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockindexer_ratelimiter_throttled_total",
			Help: "Total number of times a tryConsume call found insufficient tokens",
		},
	)
)
