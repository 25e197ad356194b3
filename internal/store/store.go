// Package store is the Postgres-backed implementation of pkg/store.BlockStore:
// upsert semantics, idempotent writes, and chain-id-scoped uniqueness for
// blocks, checkpoints, sync status, and gaps.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/russross/meddler"

	"github.com/chainindexor/blockindexer/internal/logger"
	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

var _ pkgstore.BlockStore = (*PostgresStore)(nil)

// PostgresStore implements pkgstore.BlockStore against a Postgres pool.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgresStore wraps an already-open, already-migrated connection pool.
func NewPostgresStore(db *sql.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log.WithComponent("store")}
}

// UpsertBlocks upserts every block in a single transaction, keyed on
// (chain_id, number). A stored row is touched only when its hash differs
// from the incoming hash (Phase 5 of the sync engine's batch algorithm).
func (s *PostgresStore) UpsertBlocks(ctx context.Context, blocks []pkgstore.Block) (outcomes []pkgstore.UpsertOutcome, err error) {
	start := time.Now()
	defer func() { observeOp("upsert_blocks", start, err) }()

	outcomes = make([]pkgstore.UpsertOutcome, len(blocks))
	if len(blocks) == 0 {
		return outcomes, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const upsertSQL = `
		INSERT INTO blocks (chain_id, number, hash, parent_hash, timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (chain_id, number) DO UPDATE
			SET hash = EXCLUDED.hash,
			    parent_hash = EXCLUDED.parent_hash,
			    timestamp = EXCLUDED.timestamp,
			    updated_at = now()
			WHERE blocks.hash IS DISTINCT FROM EXCLUDED.hash
		RETURNING (now() - created_at) < interval '1 second'`

	for i, b := range blocks {
		if !isValidHash(b.Hash) {
			err = &pkgstore.ErrInvalidHash{Field: "hash", Value: b.Hash}
			return nil, err
		}
		if !isValidHash(b.ParentHash) && b.Number.Sign() != 0 {
			err = &pkgstore.ErrInvalidHash{Field: "parent_hash", Value: b.ParentHash}
			return nil, err
		}

		var fresh bool
		scanErr := tx.QueryRowContext(ctx, upsertSQL,
			b.ChainID, b.Number.String(), b.Hash, b.ParentHash, b.Timestamp.String(),
		).Scan(&fresh)

		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			outcomes[i] = pkgstore.OutcomeUnchanged
			observeUpsertOutcome(labelUnchanged)
		case scanErr != nil:
			err = fmt.Errorf("upsert block %d (chain %d): %w", b.Number, b.ChainID, scanErr)
			return nil, err
		case fresh:
			outcomes[i] = pkgstore.OutcomeInserted
			observeUpsertOutcome(labelInserted)
		default:
			outcomes[i] = pkgstore.OutcomeUpdated
			observeUpsertOutcome(labelUpdated)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert transaction: %w", err)
	}
	return outcomes, nil
}

// DeleteBlocksAfter deletes every block above height for chainID, refusing
// when the implied count exceeds maxReorgDepth.
func (s *PostgresStore) DeleteBlocksAfter(ctx context.Context, chainID uint64, height *big.Int, maxReorgDepth uint64) (deleted int64, err error) {
	start := time.Now()
	defer func() { observeOp("delete_blocks_after", start, err) }()

	var count int64
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE chain_id = $1 AND number > $2`,
		chainID, height.String(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count blocks above %s: %w", height, err)
	}

	if maxReorgDepth > 0 && count > int64(maxReorgDepth) {
		err = &pkgstore.ErrDeleteTooDeep{Count: count, MaxDepth: maxReorgDepth}
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE chain_id = $1 AND number > $2`,
		chainID, height.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete blocks above %s: %w", height, err)
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected: %w", err)
	}
	return deleted, nil
}

const blockColumns = `chain_id, number, hash, parent_hash, timestamp, created_at, updated_at`

// queryBlock runs query through meddler, mapping the result row onto
// pkgstore.Block via the struct's meddler tags (bignumeric for Number and
// Timestamp). A missing row is reported as (nil, nil), matching the prior
// hand-rolled Scan behavior.
func (s *PostgresStore) queryBlock(ctx context.Context, query string, args ...interface{}) (*pkgstore.Block, error) {
	var b pkgstore.Block
	if err := meddler.QueryRow(s.db, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (s *PostgresStore) FindByHeight(ctx context.Context, chainID uint64, number *big.Int) (*pkgstore.Block, error) {
	return s.queryBlock(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE chain_id = $1 AND number = $2`,
		chainID, number.String(),
	)
}

func (s *PostgresStore) FindByHash(ctx context.Context, chainID uint64, hash string) (*pkgstore.Block, error) {
	return s.queryBlock(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE chain_id = $1 AND hash = $2`,
		chainID, hash,
	)
}

func (s *PostgresStore) ExistsByHeight(ctx context.Context, chainID uint64, number *big.Int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks WHERE chain_id = $1 AND number = $2)`,
		chainID, number.String(),
	).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) ExistsByHash(ctx context.Context, chainID uint64, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocks WHERE chain_id = $1 AND hash = $2)`,
		chainID, hash,
	).Scan(&exists)
	return exists, err
}

// MaxHeight returns the highest stored block number verbatim from the
// column, rejecting any scientific-notation stringification by the driver.
func (s *PostgresStore) MaxHeight(ctx context.Context, chainID uint64) (*big.Int, error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(number)::text FROM blocks WHERE chain_id = $1`, chainID,
	).Scan(&raw); err != nil {
		return nil, fmt.Errorf("query max height: %w", err)
	}
	return scanNullableBigInt("number", raw)
}

// DetectGaps implements the canonical gap query (Open Question #3 in
// DESIGN.md): maxBlock is computed once, not per row via a correlated
// MAX(number) subquery, and the whole computation stays in NUMERIC/big.Int.
func (s *PostgresStore) DetectGaps(ctx context.Context, chainID uint64) ([]pkgstore.Gap, error) {
	const q = `
		WITH bounds AS (SELECT MAX(number) AS max_block FROM blocks WHERE chain_id = $1)
		SELECT (b1.number + 1)::text AS gap_start,
		       ((SELECT MIN(b2.number) FROM blocks b2 WHERE b2.chain_id = $1 AND b2.number > b1.number) - 1)::text AS gap_end
		FROM blocks b1, bounds
		WHERE b1.chain_id = $1
		  AND b1.number < bounds.max_block
		  AND NOT EXISTS (SELECT 1 FROM blocks bn WHERE bn.chain_id = $1 AND bn.number = b1.number + 1)
		ORDER BY gap_start`

	rows, err := s.db.QueryContext(ctx, q, chainID)
	if err != nil {
		return nil, fmt.Errorf("detect gaps: %w", err)
	}
	defer rows.Close()

	var gaps []pkgstore.Gap
	for rows.Next() {
		var startStr, endStr string
		if err := rows.Scan(&startStr, &endStr); err != nil {
			return nil, fmt.Errorf("scan gap row: %w", err)
		}
		start, err := scanBigInt("gap_start", startStr)
		if err != nil {
			return nil, err
		}
		end, err := scanBigInt("gap_end", endStr)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, pkgstore.Gap{
			ChainID:  chainID,
			GapStart: start,
			GapEnd:   end,
			Status:   pkgstore.GapStatusPending,
		})
	}
	return gaps, rows.Err()
}

// CoverageStats computes {total, expected, missing, coveragePercent} in the
// big-integer domain, converting to float only for the rounded percentage.
func (s *PostgresStore) CoverageStats(ctx context.Context, chainID uint64) (pkgstore.CoverageStats, error) {
	var total int64
	var maxRaw sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(number)::text FROM blocks WHERE chain_id = $1`, chainID,
	).Scan(&total, &maxRaw); err != nil {
		return pkgstore.CoverageStats{}, fmt.Errorf("query coverage: %w", err)
	}

	if total == 0 {
		return pkgstore.CoverageStats{Total: 0, Expected: big.NewInt(0), Missing: big.NewInt(0), CoveragePercent: 0}, nil
	}

	maxHeight, err := scanNullableBigInt("number", maxRaw)
	if err != nil {
		return pkgstore.CoverageStats{}, err
	}

	expected := new(big.Int).Add(maxHeight, big.NewInt(1))
	totalBig := big.NewInt(total)
	missing := new(big.Int).Sub(expected, totalBig)

	expectedF, _ := new(big.Float).SetInt(expected).Float64()
	var percent float64
	if expectedF > 0 {
		percent = float64(total) * 100 / expectedF
	}

	return pkgstore.CoverageStats{
		Total:           total,
		Expected:        expected,
		Missing:         missing,
		CoveragePercent: percent,
	}, nil
}

const checkpointColumns = `id, name, block_number, block_hash, synced_at, metadata, created_at, updated_at`

// SaveCheckpoint upserts the named checkpoint and maps the RETURNING row
// through meddler onto pkgstore.Checkpoint.
func (s *PostgresStore) SaveCheckpoint(ctx context.Context, name string, height *big.Int, hash string, metadata []byte) (*pkgstore.Checkpoint, error) {
	var cp pkgstore.Checkpoint
	err := meddler.QueryRow(s.db, &cp, `
		INSERT INTO sync_checkpoints (name, block_number, block_hash, synced_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, now(), $4, now(), now())
		ON CONFLICT (name) DO UPDATE
			SET block_number = EXCLUDED.block_number,
			    block_hash = EXCLUDED.block_hash,
			    synced_at = now(),
			    metadata = EXCLUDED.metadata,
			    updated_at = now()
		RETURNING `+checkpointColumns,
		name, height.String(), hash, metadata,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (s *PostgresStore) GetLatestCheckpoint(ctx context.Context, name string) (*pkgstore.Checkpoint, error) {
	var cp pkgstore.Checkpoint
	err := meddler.QueryRow(s.db, &cp,
		`SELECT `+checkpointColumns+`
		 FROM sync_checkpoints WHERE name = $1 ORDER BY synced_at DESC LIMIT 1`,
		name,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context, name string) ([]pkgstore.Checkpoint, error) {
	var rows []*pkgstore.Checkpoint
	if err := meddler.QueryAll(s.db, &rows,
		`SELECT `+checkpointColumns+`
		 FROM sync_checkpoints WHERE name = $1 ORDER BY synced_at DESC`,
		name,
	); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	out := make([]pkgstore.Checkpoint, len(rows))
	for i, r := range rows {
		out[i] = *r
	}
	return out, nil
}

// CleanupOldCheckpoints retains only the keepLatest most-recent checkpoints
// per name (spec default N=10).
func (s *PostgresStore) CleanupOldCheckpoints(ctx context.Context, name string, keepLatest int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_checkpoints
		WHERE name = $1 AND id NOT IN (
			SELECT id FROM sync_checkpoints WHERE name = $1 ORDER BY synced_at DESC LIMIT $2
		)`, name, keepLatest,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup old checkpoints: %w", err)
	}
	return res.RowsAffected()
}

// GetSyncStatus maps the row through meddler. bignumeric's PreRead scans via
// sql.NullString and nil-safes confirmed_block/head_block on SQL NULL, so the
// query selects the raw nullable columns directly rather than COALESCE-ing
// them to empty string.
func (s *PostgresStore) GetSyncStatus(ctx context.Context, chainID uint64) (*pkgstore.SyncStatus, error) {
	var st pkgstore.SyncStatus
	err := meddler.QueryRow(s.db, &st, `
		SELECT chain_id, next_block, confirmed_block, head_block, updated_at
		FROM sync_status WHERE chain_id = $1`, chainID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync status: %w", err)
	}
	return &st, nil
}

// AdvanceCheckpoint performs the CAS advance of sync_status.next_block. The
// very first advance for a chain has no existing row, so the INSERT branch
// always applies; subsequent advances go through the ON CONFLICT DO UPDATE
// ... WHERE next_block = expectedFrom predicate. A returned false means the
// predicate failed to match an existing row: another writer raced.
func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, chainID uint64, expectedFrom, toExclusive, headBlock *big.Int) (bool, error) {
	confirmed := new(big.Int).Sub(toExclusive, big.NewInt(1))
	if confirmed.Sign() < 0 {
		confirmed = big.NewInt(0)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sync_status (chain_id, next_block, confirmed_block, head_block, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (chain_id) DO UPDATE
			SET next_block = EXCLUDED.next_block,
			    confirmed_block = EXCLUDED.confirmed_block,
			    head_block = EXCLUDED.head_block,
			    updated_at = now()
			WHERE sync_status.next_block = $5
		RETURNING next_block`,
		chainID, toExclusive.String(), confirmed.String(), headBlock.String(), expectedFrom.String(),
	)

	var got string
	err := row.Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("advance checkpoint: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) InsertGap(ctx context.Context, gap pkgstore.Gap) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_gaps (chain_id, gap_start, gap_end, status, retry_count, detected_at)
		VALUES ($1, $2, $3, $4, 0, now())
		ON CONFLICT (chain_id, gap_start, gap_end) DO NOTHING`,
		gap.ChainID, gap.GapStart.String(), gap.GapEnd.String(), pkgstore.GapStatusPending,
	)
	if err != nil {
		return fmt.Errorf("insert gap [%s,%s]: %w", gap.GapStart, gap.GapEnd, err)
	}
	return nil
}

func (s *PostgresStore) ListGapsByStatus(ctx context.Context, chainID uint64, status pkgstore.GapStatus) ([]pkgstore.Gap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chain_id, gap_start::text, gap_end::text, status, retry_count, detected_at, last_retry_at, COALESCE(error_message, '')
		FROM sync_gaps WHERE chain_id = $1 AND status = $2 ORDER BY gap_start`,
		chainID, status,
	)
	if err != nil {
		return nil, fmt.Errorf("list gaps: %w", err)
	}
	defer rows.Close()

	var gaps []pkgstore.Gap
	for rows.Next() {
		var g pkgstore.Gap
		var startStr, endStr string
		var lastRetry sql.NullTime
		if err := rows.Scan(&g.ID, &g.ChainID, &startStr, &endStr, &g.Status, &g.RetryCount, &g.DetectedAt, &lastRetry, &g.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan gap: %w", err)
		}
		if g.GapStart, err = scanBigInt("gap_start", startStr); err != nil {
			return nil, err
		}
		if g.GapEnd, err = scanBigInt("gap_end", endStr); err != nil {
			return nil, err
		}
		if lastRetry.Valid {
			t := lastRetry.Time
			g.LastRetryAt = &t
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// TransitionGap moves a gap between lifecycle states (pending -> retrying ->
// filled, or retrying -> pending on error with retry_count incremented).
func (s *PostgresStore) TransitionGap(ctx context.Context, id int64, from, to pkgstore.GapStatus, errMsg string) error {
	incr := 0
	if to == pkgstore.GapStatusPending {
		incr = 1
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_gaps
		SET status = $1, retry_count = retry_count + $2, error_message = NULLIF($3, ''), last_retry_at = now()
		WHERE id = $4 AND status = $5`,
		to, incr, errMsg, id, from,
	)
	if err != nil {
		return fmt.Errorf("transition gap %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("gap %d was not in expected state %q", id, from)
	}
	return nil
}

func (s *PostgresStore) PurgeFilledGapsOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_gaps WHERE status = $1 AND detected_at < $2`,
		pkgstore.GapStatusFilled, olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("purge filled gaps: %w", err)
	}
	return res.RowsAffected()
}
