// Package retry implements exponential backoff with jitter (spec §4.6),
// composed explicitly at call sites alongside the rate limiter and circuit
// breaker rather than hidden inside any single client.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/chainindexor/blockindexer/pkg/config"
)

// Result summarizes one retryWithBackoff invocation.
type Result struct {
	Success      bool
	Attempts     int
	TotalDelayMs uint64
}

// Options mirrors config.RetryConfig with the spec's defaults applied.
type Options struct {
	MaxRetries   int
	BaseDelayMs  uint64
	MaxDelayMs   uint64
	JitterFactor float64
}

// OptionsFromConfig converts a config.RetryConfig (already defaulted) into
// retry Options.
func OptionsFromConfig(cfg config.RetryConfig) Options {
	return Options{
		MaxRetries:   cfg.MaxRetries,
		BaseDelayMs:  cfg.BaseDelayMs,
		MaxDelayMs:   cfg.MaxDelayMs,
		JitterFactor: cfg.JitterFactor,
	}
}

// IsRetriable classifies an error as worth retrying. nil means "use the
// default: always retry" (the selective variant is only meaningful when the
// caller supplies a real predicate).
type IsRetriable func(error) bool

// Do runs op, retrying on failure per opts until success, a non-retriable
// error, or MaxRetries is exhausted. isRetriable may be nil, meaning every
// error is retriable.
func Do(ctx context.Context, opts Options, isRetriable IsRetriable, op func(ctx context.Context) error) (Result, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	var lastErr error
	var totalDelay uint64

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			retryAttempts.Observe(float64(attempt + 1))
			return Result{Success: true, Attempts: attempt + 1, TotalDelayMs: totalDelay}, nil
		}
		lastErr = err
		retryFailuresTotal.Inc()

		if isRetriable != nil && !isRetriable(err) {
			return Result{Success: false, Attempts: attempt + 1, TotalDelayMs: totalDelay}, err
		}
		if attempt == maxRetries {
			break
		}

		delay := backoffDelay(opts, attempt)
		totalDelay += uint64(delay.Milliseconds())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Success: false, Attempts: attempt + 1, TotalDelayMs: totalDelay}, ctx.Err()
		case <-timer.C:
		}
	}

	return Result{Success: false, Attempts: maxRetries + 1, TotalDelayMs: totalDelay}, lastErr
}

// backoffDelay implements min(base*2^attempt, maxDelay) with additive signed
// jitter ± jitterFactor*delay, floored to a non-negative duration.
func backoffDelay(opts Options, attempt int) time.Duration {
	base := float64(opts.BaseDelayMs)
	if base <= 0 {
		base = 100
	}
	maxDelay := float64(opts.MaxDelayMs)
	if maxDelay <= 0 {
		maxDelay = 10000
	}

	raw := base * math.Pow(2, float64(attempt))
	if raw > maxDelay {
		raw = maxDelay
	}

	jitter := (rand.Float64()*2 - 1) * opts.JitterFactor * raw
	delayMs := raw + jitter
	if delayMs < 0 {
		delayMs = 0
	}

	return time.Duration(delayMs) * time.Millisecond
}
