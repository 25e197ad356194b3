// Package breaker implements the CLOSED/OPEN/HALF_OPEN circuit breaker
// (spec §4.7) wrapping github.com/sony/gobreaker, composed explicitly at
// call sites alongside the rate limiter and retry package.
package breaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/config"
)

// State mirrors the spec's CLOSED/OPEN/HALF_OPEN vocabulary.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the breaker is OPEN and rejects a call outright.
var ErrOpen = gobreaker.ErrOpenState

// ErrTooManyHalfOpenCalls is returned when a HALF_OPEN probe is rejected
// because halfOpenMaxCalls probes have already been admitted since the
// breaker entered HALF_OPEN (gobreaker counts admitted requests, whether or
// not they have completed).
var ErrTooManyHalfOpenCalls = gobreaker.ErrTooManyRequests

// Breaker wraps a single named gobreaker.CircuitBreaker.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
	log  *logger.Logger
}

// New builds a Breaker from a (defaulted) config.BreakerConfig. name
// identifies the protected resource (e.g. an RPC method) in logs and
// metrics.
func New(name string, cfg config.BreakerConfig, log *logger.Logger) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	resetTimeoutMs := cfg.ResetTimeoutMs
	if resetTimeoutMs == 0 {
		resetTimeoutMs = 60000
	}
	halfOpenMaxCalls := cfg.HalfOpenMaxCalls
	if halfOpenMaxCalls == 0 {
		halfOpenMaxCalls = 3
	}

	b := &Breaker{name: name, log: log.WithComponent("breaker")}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenMaxCalls,
		// Interval 0: never clear CLOSED-state counts on a timer: only a
		// successful call resets them, matching the spec's
		// consecutive-failure trip condition.
		Interval: 0,
		Timeout:  time.Duration(resetTimeoutMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			breakerStateTransitions.WithLabelValues(name, mapState(to).String()).Inc()
			breakerCurrentState.WithLabelValues(name).Set(float64(stateOrdinal(mapState(to))))
			b.log.Infow("circuit breaker state changed", "name", name, "from", mapState(from), "to", mapState(to))
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

func (s State) String() string { return string(s) }

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

func stateOrdinal(s State) int {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Execute runs fn through the breaker. fn receives ctx so cancellation still
// propagates; the breaker itself adds no timeout of its own.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			breakerRejectedTotal.WithLabelValues(b.name).Inc()
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	return mapState(b.cb.State())
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string {
	return b.name
}
