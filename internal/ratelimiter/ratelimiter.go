// Package ratelimiter implements the token-bucket rate limiter guarding RPC
// calls (spec §4.5).
package ratelimiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chainindexor/blockindexer/pkg/config"
)

// ConsumeResult is the outcome of a single tryConsume call.
type ConsumeResult struct {
	Allowed         bool
	WaitMs          uint64
	TokensRemaining uint64
}

// TokenBucket is a thread-safe token-bucket limiter. Refill is computed
// lazily on each call from elapsed wall-clock time, floored to whole tokens
// to prevent long-run fractional drift.
type TokenBucket struct {
	mu sync.Mutex

	tokensPerInterval uint64
	intervalMs        uint64
	maxBurstTokens    uint64

	tokens     uint64
	lastRefill time.Time
}

// New builds a TokenBucket from config, validating at construction time per
// spec §4.5: tokensPerInterval > 0 and intervalMs > 0.
func New(cfg config.RateLimitConfig) (*TokenBucket, error) {
	if cfg.TokensPerInterval == 0 {
		return nil, fmt.Errorf("rate limiter: tokensPerInterval must be > 0")
	}
	if cfg.IntervalMs == 0 {
		return nil, fmt.Errorf("rate limiter: intervalMs must be > 0")
	}

	burst := cfg.MaxBurstTokens
	if burst == 0 {
		burst = 2 * cfg.TokensPerInterval
	}

	return &TokenBucket{
		tokensPerInterval: cfg.TokensPerInterval,
		intervalMs:        cfg.IntervalMs,
		maxBurstTokens:    burst,
		tokens:            burst,
		lastRefill:        time.Now(),
	}, nil
}

// TryConsume attempts to take n tokens without blocking, refilling first.
func (b *TokenBucket) TryConsume(n uint64) ConsumeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens >= n {
		b.tokens -= n
		limiterTokensConsumed.Add(float64(n))
		return ConsumeResult{Allowed: true, TokensRemaining: b.tokens}
	}

	deficit := n - b.tokens
	waitMs := uint64(math.Ceil(float64(deficit) / float64(b.tokensPerInterval) * float64(b.intervalMs)))
	limiterThrottled.Inc()
	return ConsumeResult{Allowed: false, WaitMs: waitMs, TokensRemaining: b.tokens}
}

func (b *TokenBucket) refillLocked() {
	elapsed := time.Since(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	added := uint64(elapsed.Milliseconds()) / b.intervalMs * b.tokensPerInterval
	if added == 0 {
		return
	}
	b.tokens += added
	if b.tokens > b.maxBurstTokens {
		b.tokens = b.maxBurstTokens
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(uint64(elapsed.Milliseconds())/b.intervalMs*b.intervalMs) * time.Millisecond)
}

// Consume blocks (loop-based, never tail-recursive, so a hot RPC path can't
// blow the stack) until n tokens are available, retrying up to maxRetries
// times. maxRetries<=0 defaults to 100.
func (b *TokenBucket) Consume(ctx context.Context, n uint64, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 100
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		result := b.TryConsume(n)
		if result.Allowed {
			return nil
		}

		timer := time.NewTimer(time.Duration(result.WaitMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("rate limiter: exceeded %d retries waiting for %d tokens; check for clock skew or misconfiguration", maxRetries, n)
}
