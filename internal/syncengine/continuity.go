package syncengine

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/core/types"

	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

// headerToBlock converts a go-ethereum header into the store's Block shape.
// Hash()/ParentHash.Hex() always render lowercase 0x-prefixed hex, matching
// the validation boundary's expectations.
func headerToBlock(chainID uint64, h *types.Header) pkgstore.Block {
	return pkgstore.Block{
		ChainID:    chainID,
		Number:     new(big.Int).Set(h.Number),
		Hash:       h.Hash().Hex(),
		ParentHash: h.ParentHash.Hex(),
		Timestamp:  new(big.Int).SetUint64(h.Time),
	}
}

// orderBlocks implements Phase 2: sort fetched blocks by height ascending.
func orderBlocks(headers []*types.Header, chainID uint64) []pkgstore.Block {
	blocks := make([]pkgstore.Block, len(headers))
	for i, h := range headers {
		blocks[i] = headerToBlock(chainID, h)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number.Cmp(blocks[j].Number) < 0 })
	return blocks
}

// checkContinuity implements Phase 3: walk the ordered blocks, enforcing
// parent_hash linkage and invoking the reorg handler on a confirmed seam
// mismatch. Returns whether a reorg was detected and handled during the
// walk.
func (e *Engine) checkContinuity(ctx context.Context, blocks []pkgstore.Block, expectedParentHash string, hasExpectedParent bool) (bool, error) {
	if len(blocks) == 0 {
		return false, nil
	}

	reorgDetected := false
	previousHash := expectedParentHash
	startIdx := 0
	if !hasExpectedParent {
		// No seam to check for the very first block in the batch; its own
		// hash seeds continuity for the rest of the batch.
		previousHash = blocks[0].Hash
		startIdx = 1
	}

	i := startIdx
	for i < len(blocks) {
		b := blocks[i]
		if b.ParentHash == previousHash {
			previousHash = b.Hash
			i++
			continue
		}

		existing, err := e.store.FindByHeight(ctx, e.chainID, b.Number)
		if err != nil {
			return reorgDetected, fmt.Errorf("lookup stored block at height %s: %w", b.Number, err)
		}

		if existing != nil && existing.Hash != b.Hash {
			result, err := e.reorgDetector.DetectReorg(ctx, b.Hash, b.Number.Uint64(), b.ParentHash)
			if err != nil {
				return reorgDetected, fmt.Errorf("reorg detection at height %s: %w", b.Number, err)
			}
			if !result.Detected {
				return reorgDetected, fmt.Errorf("continuity mismatch at height %s but reorg detector found none (expected parent %s, got %s)",
					b.Number, previousHash, b.ParentHash)
			}

			if !e.allowDeepReorgs {
				if confirmedFloor, err := e.confirmedFloor(ctx); err != nil {
					return reorgDetected, fmt.Errorf("compute confirmed floor: %w", err)
				} else if confirmedFloor != nil && result.CommonAncestor < confirmedFloor.Uint64() {
					return reorgDetected, fmt.Errorf(
						"reorg common ancestor %d rewrites confirmed blocks below floor %s and allow_deep_reorgs is false: refusing",
						result.CommonAncestor, confirmedFloor)
				}
			}

			if _, err := e.reorgDetector.HandleReorg(ctx, result.CommonAncestor); err != nil {
				return reorgDetected, fmt.Errorf("handle reorg at common ancestor %d: %w", result.CommonAncestor, err)
			}
			reorgDetected = true
			reorgsHandledTotal.Inc()

			// Store state below this height is now reconciled to the
			// common ancestor; re-evaluate the same block against its own
			// claimed parent rather than re-walking from scratch.
			previousHash = b.ParentHash
			continue
		}

		return reorgDetected, fmt.Errorf("chain discontinuity at height %s: expected parent %s, got %s",
			b.Number, previousHash, b.ParentHash)
	}

	return reorgDetected, nil
}
