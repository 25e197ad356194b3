package syncengine

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainindexor/blockindexer/internal/breaker"
	"github.com/chainindexor/blockindexer/internal/gapdetector"
	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/internal/notify"
	"github.com/chainindexor/blockindexer/internal/ratelimiter"
	"github.com/chainindexor/blockindexer/internal/retry"
	chaintypes "github.com/chainindexor/blockindexer/internal/types"
	"github.com/chainindexor/blockindexer/internal/validation"
	pkgconfig "github.com/chainindexor/blockindexer/pkg/config"
	pkgreorg "github.com/chainindexor/blockindexer/pkg/reorg"
	pkgrpc "github.com/chainindexor/blockindexer/pkg/rpc"
	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

// Engine is the batch synchronization orchestrator described in spec §4.1.
// It is single-writer per chain_id: callers are expected to hold the
// distributed advisory lock (internal/lock) for the engine's chain while it
// runs.
type Engine struct {
	chainID   uint64
	store     pkgstore.BlockStore
	endpoints []pkgrpc.EthClient
	rpcIdx    uint64

	limiter       *ratelimiter.TokenBucket
	retryOpts     retry.Options
	breaker       *breaker.Breaker
	reorgDetector pkgreorg.Detector

	concurrency       int
	batchSize         uint64
	confirmationDepth uint64
	maxReorgDepth     uint64
	allowDeepReorgs   bool
	checkpointName    string
	checkpointKeep    int
	pollInterval      time.Duration
	finality          chaintypes.BlockFinality
	finalizedLag      uint64

	gapDetector *gapdetector.Detector
	notifier    Notifier

	log     *logger.Logger
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Deps bundles the Engine's collaborators, constructed independently so
// each can be unit tested in isolation.
type Deps struct {
	ChainID       uint64
	Store         pkgstore.BlockStore
	Endpoints     []pkgrpc.EthClient
	Limiter       *ratelimiter.TokenBucket
	Breaker       *breaker.Breaker
	ReorgDetector pkgreorg.Detector
	Log           *logger.Logger
}

// New builds an Engine from Deps and a (defaulted) config.SyncConfig and
// config.RPCConfig. The RPC config only supplies the finality tag used by
// SyncToTip to resolve the chain head.
func New(deps Deps, cfg pkgconfig.SyncConfig, rpcCfg pkgconfig.RPCConfig) *Engine {
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 10
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 50
	}
	maxReorgDepth := cfg.MaxReorgDepth
	if maxReorgDepth == 0 {
		maxReorgDepth = 1000
	}
	allowDeepReorgs := true
	if cfg.AllowDeepReorgs != nil {
		allowDeepReorgs = *cfg.AllowDeepReorgs
	}
	checkpointName := cfg.CheckpointName
	if checkpointName == "" {
		checkpointName = "default"
	}
	checkpointKeep := cfg.CheckpointRetention
	if checkpointKeep == 0 {
		checkpointKeep = 10
	}
	pollInterval := time.Duration(cfg.PollIntervalMs) * time.Millisecond
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	finality, err := rpcCfg.FinalityMode()
	if err != nil {
		finality = chaintypes.FinalityLatest
	}

	e := &Engine{
		chainID:           deps.ChainID,
		store:             deps.Store,
		endpoints:         deps.Endpoints,
		limiter:           deps.Limiter,
		retryOpts:         retry.Options{MaxRetries: 5, BaseDelayMs: 100, MaxDelayMs: 10000, JitterFactor: 0.5},
		breaker:           deps.Breaker,
		reorgDetector:     deps.ReorgDetector,
		concurrency:       concurrency,
		batchSize:         batchSize,
		confirmationDepth: cfg.ConfirmationDepth,
		maxReorgDepth:     maxReorgDepth,
		allowDeepReorgs:   allowDeepReorgs,
		checkpointName:    checkpointName,
		checkpointKeep:    checkpointKeep,
		pollInterval:      pollInterval,
		finality:          finality,
		finalizedLag:      rpcCfg.FinalizedLag,
		log:               deps.Log.WithComponent("sync-engine"),
	}
	return e
}

// Notifier publishes sync engine lifecycle events. *notify.Publisher
// satisfies this; nil is a valid, no-op Engine field.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event) error
}

// WithNotifier attaches an optional lifecycle-event publisher. When unset,
// the engine runs exactly as before with no observable difference.
func (e *Engine) WithNotifier(n Notifier) *Engine {
	e.notifier = n
	return e
}

func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	ev.ChainID = e.chainID
	if err := e.notifier.Publish(ctx, ev); err != nil {
		e.log.Warnw("failed to publish lifecycle event", "kind", ev.Kind, "error", err)
	}
}

// WithGapDetector attaches the gap detector this engine feeds gap repairs
// through. Wired after construction since the detector in turn depends on
// the engine as its gapdetector.BatchSyncer.
func (e *Engine) WithGapDetector(d *gapdetector.Detector) *Engine {
	e.gapDetector = d
	return e
}

// WithRetryOptions overrides the default retry options (tests and
// config-driven callers may want tighter bounds than the hardcoded
// defaults).
func (e *Engine) WithRetryOptions(opts retry.Options) *Engine {
	e.retryOpts = opts
	return e
}

func (e *Engine) confirmedFloor(ctx context.Context) (*big.Int, error) {
	if e.confirmationDepth == 0 {
		return nil, nil
	}
	tip, err := e.store.MaxHeight(ctx, e.chainID)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, nil
	}
	floor := new(big.Int).Sub(tip, new(big.Int).SetUint64(e.confirmationDepth))
	if floor.Sign() < 0 {
		floor = big.NewInt(0)
	}
	return floor, nil
}

// SyncBatch implements gapdetector.BatchSyncer and spec §4.1 operation 1.
// startHeight and endHeight are inclusive; expectedParentHash, when
// non-empty, must equal the stored hash at startHeight-1.
func (e *Engine) SyncBatch(ctx context.Context, chainID uint64, startHeight, endHeight *big.Int, expectedParentHash string) (BatchResult, error) {
	start := startHeight.Uint64()
	end := endHeight.Uint64()

	syncStart := time.Now()
	defer func() { batchDuration.Observe(time.Since(syncStart).Seconds()) }()

	// Phase 1: fetch.
	headers, err := e.fetchRange(ctx, start, end)
	if err != nil {
		batchesFailedTotal.Inc()
		return BatchResult{Failed: true}, err
	}

	// Phase 2: order.
	blocks := orderBlocks(headers, chainID)

	// Phase 3: continuity.
	hasExpectedParent := expectedParentHash != "" && start > 0
	reorgDetected, err := e.checkContinuity(ctx, blocks, expectedParentHash, hasExpectedParent)
	if err != nil {
		batchesFailedTotal.Inc()
		return BatchResult{Failed: true, ReorgDetected: reorgDetected}, err
	}

	// Phase 4: validate.
	raw := make([]validation.RawBlock, len(blocks))
	for i, b := range blocks {
		raw[i] = validation.RawBlock{ChainID: b.ChainID, Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash, Timestamp: b.Timestamp}
	}
	var genesisNumber *big.Int
	if start == 0 {
		genesisNumber = big.NewInt(0)
	}
	if err := validation.ValidateBatch(raw, time.Now(), genesisNumber); err != nil {
		batchesFailedTotal.Inc()
		return BatchResult{Failed: true, ReorgDetected: reorgDetected}, fmt.Errorf("batch validation: %w", err)
	}

	// Phase 5: persist.
	if _, err := e.store.UpsertBlocks(ctx, blocks); err != nil {
		batchesFailedTotal.Inc()
		return BatchResult{Failed: true, ReorgDetected: reorgDetected}, fmt.Errorf("persist batch: %w", err)
	}

	// Phase 6: advance checkpoint.
	headBlock := blocks[len(blocks)-1].Number
	advanced, err := e.store.AdvanceCheckpoint(ctx, chainID, startHeight, new(big.Int).Add(endHeight, big.NewInt(1)), headBlock)
	if err != nil {
		batchesFailedTotal.Inc()
		return BatchResult{Failed: true, ReorgDetected: reorgDetected}, fmt.Errorf("advance checkpoint: %w", err)
	}
	if !advanced {
		checkpointCASConflictsTotal.Inc()
		return BatchResult{Failed: true, ReorgDetected: reorgDetected}, &pkgstore.ErrCASConflict{ChainID: chainID, ExpectedFrom: startHeight.String()}
	}

	last := blocks[len(blocks)-1]
	batchesSucceededTotal.Inc()
	blocksSyncedTotal.Add(float64(len(blocks)))

	// Phase 7: checkpoint. sync_status.next_block is the authoritative CAS
	// cursor advanced above; sync_checkpoints is a supplementary, retained
	// history of commits under checkpointName, so a failure here is logged
	// but never fails the batch that already committed.
	if _, err := e.store.SaveCheckpoint(ctx, e.checkpointName, last.Number, last.Hash, nil); err != nil {
		e.log.Warnw("save checkpoint failed", "checkpoint", e.checkpointName, "error", err)
	} else if _, err := e.store.CleanupOldCheckpoints(ctx, e.checkpointName, e.checkpointKeep); err != nil {
		e.log.Warnw("cleanup old checkpoints failed", "checkpoint", e.checkpointName, "error", err)
	}

	e.publish(ctx, notify.Event{Kind: notify.EventBatchSynced, Height: last.Number.Uint64(), Hash: last.Hash})
	if reorgDetected {
		e.publish(ctx, notify.Event{Kind: notify.EventReorgHandled, Height: last.Number.Uint64(), Hash: last.Hash})
	}

	return BatchResult{
		Synced:        true,
		ReorgDetected: reorgDetected,
		LastHeight:    last.Number,
		LastHash:      last.Hash,
	}, nil
}

// resolveTip fetches the chain head header according to the configured
// finality tag ("finalized", "safe", or "latest" with FinalizedLag applied).
func (e *Engine) resolveTip(ctx context.Context) (*types.Header, error) {
	client := e.nextEndpoint()

	switch e.finality {
	case chaintypes.FinalityFinalized:
		return client.GetFinalizedBlockHeader(ctx)
	case chaintypes.FinalitySafe:
		return client.GetSafeBlockHeader(ctx)
	default:
		head, err := client.GetLatestBlockHeader(ctx)
		if err != nil {
			return nil, err
		}
		if e.finalizedLag == 0 {
			return head, nil
		}
		laggedHeight := new(big.Int).Sub(head.Number, new(big.Int).SetUint64(e.finalizedLag))
		if laggedHeight.Sign() < 0 {
			laggedHeight = big.NewInt(0)
		}
		return client.GetBlockHeader(ctx, laggedHeight.Uint64())
	}
}

// SyncToTip implements spec §4.1 operation 2: repeatedly calls SyncBatch in
// batchSize-sized windows from the current sync cursor up to the resolved
// chain tip, stopping when caught up or when ctx is cancelled.
func (e *Engine) SyncToTip(ctx context.Context) error {
	tip, err := e.resolveTip(ctx)
	if err != nil {
		return fmt.Errorf("resolve chain tip: %w", err)
	}
	tipHeight := tip.Number

	status, err := e.store.GetSyncStatus(ctx, e.chainID)
	if err != nil {
		return fmt.Errorf("load sync status: %w", err)
	}

	next := big.NewInt(0)
	var expectedParentHash string
	if status != nil && status.NextBlock != nil {
		next = status.NextBlock
		if status.HeadBlock != nil {
			if stored, err := e.store.FindByHeight(ctx, e.chainID, new(big.Int).Sub(next, big.NewInt(1))); err == nil && stored != nil {
				expectedParentHash = stored.Hash
			}
		}
	}

	for next.Cmp(tipHeight) <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := new(big.Int).Add(next, new(big.Int).SetUint64(e.batchSize-1))
		if end.Cmp(tipHeight) > 0 {
			end = tipHeight
		}

		result, err := e.SyncBatch(ctx, e.chainID, next, end, expectedParentHash)
		if err != nil {
			return fmt.Errorf("sync batch [%s,%s]: %w", next, end, err)
		}
		if !result.Synced {
			return fmt.Errorf("sync batch [%s,%s] did not commit", next, end)
		}

		expectedParentHash = result.LastHash
		next = new(big.Int).Add(result.LastHeight, big.NewInt(1))
	}

	return nil
}

// RepairGaps implements spec §4.1 operation 3 by delegating to the embedded
// gap detector, which in turn calls back into SyncBatch via the BatchSyncer
// interface.
func (e *Engine) RepairGaps(ctx context.Context) error {
	if e.gapDetector == nil {
		return nil
	}
	detected, err := e.gapDetector.DetectAndRecord(ctx)
	if err != nil {
		return fmt.Errorf("detect gaps: %w", err)
	}
	if detected > 0 {
		e.publish(ctx, notify.Event{Kind: notify.EventGapDetected, Detail: fmt.Sprintf("%d gap(s) detected", detected)})
	}
	if err := e.gapDetector.RepairPending(ctx); err != nil {
		return fmt.Errorf("repair pending gaps: %w", err)
	}
	if _, err := e.gapDetector.PurgeOld(ctx); err != nil {
		return fmt.Errorf("purge old gaps: %w", err)
	}
	return nil
}

// Run drives the engine's continuous poll loop: syncToTip, then repairGaps,
// on every PollIntervalMs tick, until Stop is called or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	defer e.running.Store(false)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	defer close(e.doneCh)

	// The gap detector's own background loop is not started here: RepairGaps
	// below already drives detect+repair once per poll tick, and running
	// both would duplicate work against the same rows.
	for {
		if err := e.SyncToTip(ctx); err != nil {
			e.log.Errorw("sync to tip failed", "error", err)
		}
		if err := e.RepairGaps(ctx); err != nil {
			e.log.Errorw("repair gaps failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Stop signals Run's poll loop to exit and blocks until it has.
func (e *Engine) Stop() {
	if !e.running.Load() {
		return
	}
	close(e.stopCh)
	<-e.doneCh
}
