package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/config"
)

var errBoom = errors.New("boom")

func ok(ctx context.Context) (interface{}, error)   { return "ok", nil }
func fail(ctx context.Context) (interface{}, error) { return nil, errBoom }

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 3, ResetTimeoutMs: 50, HalfOpenMaxCalls: 1}, logger.NewNopLogger())
	require.Equal(t, StateClosed, b.State())

	_, err := b.Execute(context.Background(), ok)
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())
}

func TestBreaker_TripsToOpenAfterThreshold(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 3, ResetTimeoutMs: 50, HalfOpenMaxCalls: 1}, logger.NewNopLogger())

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), fail)
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_OpenRejectsAllCalls(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 10000, HalfOpenMaxCalls: 1}, logger.NewNopLogger())

	_, err := b.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	_, err = b.Execute(context.Background(), ok)
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_TransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 20, HalfOpenMaxCalls: 1}, logger.NewNopLogger())

	_, err := b.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)

	_, err = b.Execute(context.Background(), ok)
	require.NoError(t, err)
}

func TestBreaker_HalfOpenClosesAfterConsecutiveSuccesses(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 20, HalfOpenMaxCalls: 2}, logger.NewNopLogger())

	_, err := b.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errBoom)
	time.Sleep(40 * time.Millisecond)

	_, err = b.Execute(context.Background(), ok)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(context.Background(), ok)
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	b := New("test", config.BreakerConfig{FailureThreshold: 1, ResetTimeoutMs: 20, HalfOpenMaxCalls: 2}, logger.NewNopLogger())

	_, err := b.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errBoom)
	time.Sleep(40 * time.Millisecond)

	_, err = b.Execute(context.Background(), fail)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := New("test", config.BreakerConfig{}, logger.NewNopLogger())
	require.Equal(t, StateClosed, b.State())
}

func TestBreaker_NameReturnsConfiguredName(t *testing.T) {
	b := New("rpc.getBlockHeader", config.BreakerConfig{}, logger.NewNopLogger())
	require.Equal(t, "rpc.getBlockHeader", b.Name())
}
