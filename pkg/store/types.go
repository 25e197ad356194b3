// Package store defines the persistence contract for blocks, checkpoints,
// sync status, gaps, and application locks.
package store

import (
	"context"
	"math/big"
	"time"
)

// Block is a single indexed block. Number and Timestamp are carried as
// *big.Int end to end; neither ever crosses through a 64-bit float. Tags
// drive meddler's struct<->row mapping in internal/store.
type Block struct {
	ChainID    uint64    `meddler:"chain_id"`
	Number     *big.Int  `meddler:"number,bignumeric"`
	Hash       string    `meddler:"hash"`
	ParentHash string    `meddler:"parent_hash"`
	Timestamp  *big.Int  `meddler:"timestamp,bignumeric"`
	CreatedAt  time.Time `meddler:"created_at"`
	UpdatedAt  time.Time `meddler:"updated_at"`
}

// Checkpoint is a named, persisted record of the highest safely-committed
// height for a sync engine instance.
type Checkpoint struct {
	ID          int64     `meddler:"id,pk"`
	Name        string    `meddler:"name"`
	BlockNumber *big.Int  `meddler:"block_number,bignumeric"`
	BlockHash   string    `meddler:"block_hash"`
	SyncedAt    time.Time `meddler:"synced_at"`
	Metadata    []byte    `meddler:"metadata"` // opaque JSON, nil when absent
	CreatedAt   time.Time `meddler:"created_at"`
	UpdatedAt   time.Time `meddler:"updated_at"`
}

// SyncStatus is the per-chain CAS-guarded sync cursor.
type SyncStatus struct {
	ChainID        uint64    `meddler:"chain_id"`
	NextBlock      *big.Int  `meddler:"next_block,bignumeric"`
	ConfirmedBlock *big.Int  `meddler:"confirmed_block,bignumeric"`
	HeadBlock      *big.Int  `meddler:"head_block,bignumeric"`
	UpdatedAt      time.Time `meddler:"updated_at"`
}

// GapStatus is the lifecycle state of a detected gap.
type GapStatus string

const (
	GapStatusPending  GapStatus = "pending"
	GapStatusRetrying GapStatus = "retrying"
	GapStatusFilled   GapStatus = "filled"
)

// Gap is a detected hole in the stored block height sequence.
type Gap struct {
	ID           int64
	ChainID      uint64
	GapStart     *big.Int
	GapEnd       *big.Int
	Status       GapStatus
	RetryCount   int
	DetectedAt   time.Time
	LastRetryAt  *time.Time
	ErrorMessage string
}

// CoverageStats summarizes how complete the stored chain is below its
// highest known height, computed entirely in the big-integer domain except
// for the final rounded percentage.
type CoverageStats struct {
	Total           int64
	Expected        *big.Int
	Missing         *big.Int
	CoveragePercent float64
}

// AppLock is the supplementary fencing record backing the advisory lock.
type AppLock struct {
	Name       string
	InstanceID string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertOutcome distinguishes a fresh insert from an update-in-place so
// callers can report insertedCount/updatedCount without a second query.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeInserted
	OutcomeUpdated
)

// BlockStore is the persistence contract for §4.4 of the indexer spec.
type BlockStore interface {
	// UpsertBlocks atomically upserts every block in a single transaction,
	// keyed on (chain_id, number). A row is updated only when its stored
	// hash differs from the incoming hash; identical re-delivery is a no-op.
	// Returns, per input block in order, whether it was inserted, updated,
	// or left unchanged.
	UpsertBlocks(ctx context.Context, blocks []Block) ([]UpsertOutcome, error)

	// DeleteBlocksAfter deletes every block with number > height for the
	// given chain, refusing (ErrReorgTooDeep-shaped by the caller) when the
	// implied delete count exceeds maxReorgDepth. Returns rows deleted.
	DeleteBlocksAfter(ctx context.Context, chainID uint64, height *big.Int, maxReorgDepth uint64) (int64, error)

	FindByHeight(ctx context.Context, chainID uint64, number *big.Int) (*Block, error)
	FindByHash(ctx context.Context, chainID uint64, hash string) (*Block, error)
	ExistsByHeight(ctx context.Context, chainID uint64, number *big.Int) (bool, error)
	ExistsByHash(ctx context.Context, chainID uint64, hash string) (bool, error)

	// MaxHeight returns the highest stored block number for chainID, reading
	// the big-integer value verbatim from the column. Returns nil, nil when
	// no blocks are stored.
	MaxHeight(ctx context.Context, chainID uint64) (*big.Int, error)

	// DetectGaps returns every contiguous missing range strictly below the
	// chain's max stored height.
	DetectGaps(ctx context.Context, chainID uint64) ([]Gap, error)

	CoverageStats(ctx context.Context, chainID uint64) (CoverageStats, error)

	SaveCheckpoint(ctx context.Context, name string, height *big.Int, hash string, metadata []byte) (*Checkpoint, error)
	GetLatestCheckpoint(ctx context.Context, name string) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, name string) ([]Checkpoint, error)
	CleanupOldCheckpoints(ctx context.Context, name string, keepLatest int) (int64, error)

	GetSyncStatus(ctx context.Context, chainID uint64) (*SyncStatus, error)

	// AdvanceCheckpoint performs the compare-and-swap advance of next_block:
	// SET next_block = toExclusive WHERE chain_id = chainID AND next_block =
	// expectedFrom. Returns false when the predicate didn't match (another
	// writer raced) and the caller must abandon the batch.
	AdvanceCheckpoint(ctx context.Context, chainID uint64, expectedFrom, toExclusive *big.Int, headBlock *big.Int) (bool, error)

	// InsertGap idempotently records a detected gap.
	InsertGap(ctx context.Context, gap Gap) error
	ListGapsByStatus(ctx context.Context, chainID uint64, status GapStatus) ([]Gap, error)
	TransitionGap(ctx context.Context, id int64, from, to GapStatus, errMsg string) error
	PurgeFilledGapsOlderThan(ctx context.Context, olderThan time.Time) (int64, error)
}
