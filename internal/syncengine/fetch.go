package syncengine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/chainindexor/blockindexer/internal/retry"
	pkgrpc "github.com/chainindexor/blockindexer/pkg/rpc"
)

// nextEndpoint round-robins across the configured RPC endpoint pool; each
// retry attempt favors a different endpoint per spec §4.1 Phase 1.
func (e *Engine) nextEndpoint() pkgrpc.EthClient {
	idx := atomic.AddUint64(&e.rpcIdx, 1)
	return e.endpoints[idx%uint64(len(e.endpoints))]
}

// fetchBlock fetches a single block header through the rate limiter, retry,
// and circuit breaker composite, round-robining endpoints on each retry.
func (e *Engine) fetchBlock(ctx context.Context, height uint64) (*types.Header, error) {
	var header *types.Header

	result, err := retry.Do(ctx, e.retryOpts, retry.DefaultIsRetriable, func(ctx context.Context) error {
		if err := e.limiter.Consume(ctx, 1, 100); err != nil {
			return err
		}

		client := e.nextEndpoint()
		raw, err := e.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return client.GetBlockHeader(ctx, height)
		})
		if err != nil {
			return err
		}
		header = raw.(*types.Header)
		return nil
	})
	_ = result

	return header, err
}

// fetchRange fetches every height in [start, end] via a bounded-concurrency
// pool. It always waits for the whole pool to drain (never cancels sibling
// fetches on a single failure) so the caller can report every failed height
// at once, per spec §4.1 Phase 1.
func (e *Engine) fetchRange(ctx context.Context, start, end uint64) ([]*types.Header, error) {
	n := int(end-start) + 1
	headers := make([]*types.Header, n)

	var mu sync.Mutex
	var failed []uint64

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i := 0; i < n; i++ {
		height := start + uint64(i)
		idx := i
		g.Go(func() error {
			header, err := e.fetchBlock(ctx, height)
			if err != nil {
				mu.Lock()
				failed = append(failed, height)
				mu.Unlock()
				fetchFailuresTotal.Inc()
				return nil
			}
			headers[idx] = header
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
		return nil, &FailedHeightsError{Heights: failed}
	}
	return headers, nil
}
