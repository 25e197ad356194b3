// Package reorg implements the chain-reorganization detector described in
// pkg/reorg: a backward ancestor walk bounded by depth and guarded against
// cycles, a bounded rollback, and a cheap per-block continuity guard used at
// batch seams.
package reorg

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	internalcommon "github.com/chainindexor/blockindexer/internal/common"
	"github.com/chainindexor/blockindexer/internal/db"
	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/internal/metrics"
	pkgreorg "github.com/chainindexor/blockindexer/pkg/reorg"
	pkgrpc "github.com/chainindexor/blockindexer/pkg/rpc"
	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

var _ pkgreorg.Detector = (*ReorgDetector)(nil)

// ReorgDetector implements pkgreorg.Detector. Detection compares the store's
// durable record against the live chain: a single RPC client resolves the
// real chain's ancestry one header at a time during the backward walk, while
// every "is this ancestor already ours" check stays against the store.
type ReorgDetector struct {
	chainID       uint64
	store         pkgstore.BlockStore
	rpc           pkgrpc.EthClient
	log           *logger.Logger
	maintenance   db.Maintenance
	maxDepth      uint64
	maxReorgDepth uint64

	mu        sync.Mutex
	visited   *fifoHashSet
	hashCache *lruCache
	contCache *ttlCache
}

// Config bundles the bounds governing a ReorgDetector.
type Config struct {
	ChainID       uint64
	MaxDepth      uint64 // default 1000 (§4.2)
	MaxReorgDepth uint64 // default 1000, passed through to the store's DeleteBlocksAfter guard
}

// NewReorgDetector builds a ReorgDetector backed by store for chainID. rpc is
// used only during a confirmed reorg episode's ancestor walk, to step
// backward through the live chain's real parent-hash chain.
func NewReorgDetector(store pkgstore.BlockStore, rpcClient pkgrpc.EthClient, log *logger.Logger, maintenance db.Maintenance, cfg Config) *ReorgDetector {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = 1000
	}
	if cfg.MaxReorgDepth == 0 {
		cfg.MaxReorgDepth = 1000
	}

	d := &ReorgDetector{
		chainID:       cfg.ChainID,
		store:         store,
		rpc:           rpcClient,
		log:           log.WithComponent(internalcommon.ComponentReorgDetector),
		maintenance:   maintenance,
		maxDepth:      cfg.MaxDepth,
		maxReorgDepth: cfg.MaxReorgDepth,
		visited:       newFIFOHashSet(100),
		hashCache:     newLRUCache(100),
		contCache:     newTTLCache(100, 60*time.Second),
	}

	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, true)
	d.log.Info("reorg detector initialized")
	return d
}

// DetectReorg implements pkgreorg.Detector.DetectReorg (spec §4.2).
func (d *ReorgDetector) DetectReorg(ctx context.Context, newHash string, newHeight uint64, expectedParentHash string) (pkgreorg.DetectResult, error) {
	if newHeight == 0 {
		return pkgreorg.DetectResult{Detected: false, Message: "genesis block is exempt from reorg detection"}, nil
	}

	if expectedParentHash != "" {
		parentHash, found, err := d.lookupHash(ctx, newHeight-1)
		if err != nil {
			return pkgreorg.DetectResult{}, err
		}
		if found && parentHash == expectedParentHash {
			return pkgreorg.DetectResult{Detected: false, Message: "parent hash resolved against store, no reorg"}, nil
		}
	}

	existing, err := d.store.FindByHeight(ctx, d.chainID, new(big.Int).SetUint64(newHeight))
	if err != nil {
		return pkgreorg.DetectResult{}, fmt.Errorf("lookup stored block at %d: %w", newHeight, err)
	}
	if existing == nil {
		// No stored block at this height yet: this is initial sync or a gap,
		// not a reorg.
		return pkgreorg.DetectResult{Detected: false, Message: "no stored block at height, treating as gap/initial sync"}, nil
	}
	if existing.Hash == newHash {
		return pkgreorg.DetectResult{Detected: false, Message: "stored hash matches incoming hash"}, nil
	}

	// Reorg confirmed: walk backward along the live chain's real ancestry,
	// comparing each height against the store, until agreement or maxDepth.
	d.mu.Lock()
	d.visited.reset()
	d.mu.Unlock()

	walkHash := expectedParentHash
	walkHeight := newHeight - 1

	for depth := uint64(1); depth <= d.maxDepth; depth++ {
		d.mu.Lock()
		cyclic := d.visited.seen(walkHash)
		d.visited.add(walkHash)
		d.mu.Unlock()
		if cyclic {
			return pkgreorg.DetectResult{}, &pkgreorg.ErrCyclicChain{Hash: walkHash}
		}

		storedHash, found, err := d.lookupHash(ctx, walkHeight)
		if err != nil {
			return pkgreorg.DetectResult{}, err
		}
		if found && storedHash == walkHash {
			result := pkgreorg.DetectResult{
				Detected:       true,
				Depth:          newHeight - walkHeight,
				CommonAncestor: walkHeight,
				Message:        fmt.Sprintf("common ancestor found at height %d after walking %d blocks", walkHeight, depth),
			}
			reorgDetectedLog(result.Depth, result.CommonAncestor)
			return result, nil
		}

		if walkHeight == 0 {
			break
		}

		header, err := d.rpc.GetBlockHeader(ctx, walkHeight)
		if err != nil {
			return pkgreorg.DetectResult{}, fmt.Errorf("fetch header at %d during ancestor walk: %w", walkHeight, err)
		}
		walkHash = header.ParentHash.Hex()
		walkHeight--
	}

	return pkgreorg.DetectResult{}, &pkgreorg.ErrAncestorNotFound{MaxDepth: d.maxDepth}
}

// lookupHash resolves the stored hash at height, through a small cache to
// avoid N+1 query storms during an ancestor walk. found is false when no
// block is stored at that height, which is not itself an error.
func (d *ReorgDetector) lookupHash(ctx context.Context, height uint64) (hash string, found bool, err error) {
	if cached, ok := d.hashCache.get(height); ok {
		return cached, true, nil
	}

	block, err := d.store.FindByHeight(ctx, d.chainID, new(big.Int).SetUint64(height))
	if err != nil {
		return "", false, fmt.Errorf("resolve hash at height %d: %w", height, err)
	}
	if block == nil {
		return "", false, nil
	}

	d.hashCache.put(height, block.Hash)
	return block.Hash, true, nil
}

// HandleReorg implements pkgreorg.Detector.HandleReorg (spec §4.2).
func (d *ReorgDetector) HandleReorg(ctx context.Context, commonAncestor uint64) (int64, error) {
	unlock := d.maintenance.AcquireOperationLock()
	defer unlock()

	deleted, err := d.store.DeleteBlocksAfter(ctx, d.chainID, new(big.Int).SetUint64(commonAncestor), d.maxReorgDepth)
	if err != nil {
		return 0, fmt.Errorf("roll back to common ancestor %d: %w", commonAncestor, err)
	}

	if deleted == 0 {
		// Depth-0: nothing was actually rolled back, so this isn't a real
		// reorg episode; skip any "reorg observed" side effects.
		return 0, nil
	}

	rollbacksTotal.Add(float64(deleted))
	d.log.Warnf("rolled back reorg: common_ancestor=%d blocks_deleted=%d", commonAncestor, deleted)
	return deleted, nil
}

// VerifyChainContinuity implements pkgreorg.Detector.VerifyChainContinuity
// (spec §4.2): a cheap per-block guard used at batch seams.
func (d *ReorgDetector) VerifyChainContinuity(ctx context.Context, blockNumber uint64, parentHash string) error {
	if blockNumber == 0 {
		return nil
	}

	if cached, ok := d.contCache.get(parentHash); ok {
		return d.compareContinuity(blockNumber, cached)
	}

	parent, err := d.store.FindByHash(ctx, d.chainID, parentHash)
	if err != nil {
		return fmt.Errorf("resolve parent by hash for continuity check: %w", err)
	}
	if parent == nil {
		return fmt.Errorf("parent hash %s not found in store for block %d", parentHash, blockNumber)
	}

	d.contCache.put(parentHash, parent.Number.Uint64())
	return d.compareContinuity(blockNumber, parent.Number.Uint64())
}

func (d *ReorgDetector) compareContinuity(blockNumber, parentNumber uint64) error {
	if parentNumber != blockNumber-1 {
		return fmt.Errorf("chain discontinuity: block %d's parent is at height %d, expected %d", blockNumber, parentNumber, blockNumber-1)
	}
	return nil
}

// Close releases detector-held resources.
func (d *ReorgDetector) Close() error {
	metrics.ComponentHealthSet(internalcommon.ComponentReorgDetector, false)
	return nil
}
