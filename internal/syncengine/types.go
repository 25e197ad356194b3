// Package syncengine implements the core batch synchronization orchestrator
// (spec §4.1): it composes the rate limiter, retry, circuit breaker, reorg
// handler, validation, and store layers into syncBatch/syncToTip/repairGaps.
package syncengine

import (
	"math/big"

	"github.com/chainindexor/blockindexer/internal/gapdetector"
)

// BatchResult mirrors the contract of syncBatch from spec §4.1. It is an
// alias of gapdetector.BatchSyncResult so the Engine satisfies
// gapdetector.BatchSyncer without a duplicate, incompatible shape.
type BatchResult = gapdetector.BatchSyncResult

// FailedHeightsError carries the set of heights whose fetch exhausted all
// retries, so Phase 1's fail-fast abort can name them.
type FailedHeightsError struct {
	Heights []uint64
}

func (e *FailedHeightsError) Error() string {
	return "fetch exhausted retries for block heights: " + formatHeights(e.Heights)
}

func formatHeights(heights []uint64) string {
	s := make([]byte, 0, len(heights)*8)
	for i, h := range heights {
		if i > 0 {
			s = append(s, ',', ' ')
		}
		s = append(s, []byte(big.NewInt(0).SetUint64(h).String())...)
	}
	return string(s)
}
