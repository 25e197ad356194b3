// Package gapdetector implements spec §4.3: periodic detection of holes in
// the stored block sequence, idempotent recording, and a repair loop that
// re-feeds discovered ranges into the Sync Engine.
package gapdetector

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/chainindexor/blockindexer/internal/logger"
	pkgconfig "github.com/chainindexor/blockindexer/pkg/config"
	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

// BatchSyncResult mirrors the Sync Engine's syncBatch return shape (spec
// §4.1), the minimal surface the gap detector needs to judge a repair's
// outcome.
type BatchSyncResult struct {
	Synced        bool
	Failed        bool
	ReorgDetected bool
	LastHeight    *big.Int
	LastHash      string
}

// BatchSyncer is satisfied by the Sync Engine; the gap detector depends only
// on this narrow interface so it can be built and tested before the engine
// exists.
type BatchSyncer interface {
	SyncBatch(ctx context.Context, chainID uint64, startHeight, endHeight *big.Int, expectedParentHash string) (BatchSyncResult, error)
}

// Detector runs the periodic detect/repair/purge cycle for one chain.
type Detector struct {
	store   pkgstore.BlockStore
	syncer  BatchSyncer
	log     *logger.Logger
	chainID uint64

	checkInterval   time.Duration
	retentionPeriod time.Duration
	maxRetries      int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Detector from a (defaulted) config.GapConfig.
func New(store pkgstore.BlockStore, syncer BatchSyncer, chainID uint64, cfg pkgconfig.GapConfig, log *logger.Logger) *Detector {
	checkInterval := cfg.CheckInterval.Duration
	if checkInterval == 0 {
		checkInterval = 5 * time.Minute
	}
	retentionPeriod := cfg.RetentionPeriod.Duration
	if retentionPeriod == 0 {
		retentionPeriod = 7 * 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}

	return &Detector{
		store:           store,
		syncer:          syncer,
		chainID:         chainID,
		checkInterval:   checkInterval,
		retentionPeriod: retentionPeriod,
		maxRetries:      maxRetries,
		log:             log.WithComponent("gapdetector"),
	}
}

// DetectAndRecord runs the store's canonical gap-detection query and
// idempotently records every discovered range. Re-detecting an already
// recorded gap is a no-op (ON CONFLICT DO NOTHING in the store).
func (d *Detector) DetectAndRecord(ctx context.Context) (int, error) {
	gaps, err := d.store.DetectGaps(ctx, d.chainID)
	if err != nil {
		return 0, fmt.Errorf("detect gaps: %w", err)
	}

	for _, gap := range gaps {
		gap.ChainID = d.chainID
		gap.Status = pkgstore.GapStatusPending
		if err := d.store.InsertGap(ctx, gap); err != nil {
			return 0, fmt.Errorf("insert gap [%s,%s]: %w", gap.GapStart, gap.GapEnd, err)
		}
	}

	if len(gaps) > 0 {
		gapsDetectedTotal.Add(float64(len(gaps)))
		d.log.Infow("recorded gaps", "count", len(gaps), "chain_id", d.chainID)
	}
	return len(gaps), nil
}

// RepairPending moves every pending gap through retrying and attempts a
// fill via the Sync Engine, clamping the attempted range to the highest
// stored block height (store.MaxHeight); the RPC chain tip is not consulted.
// Success transitions to filled; failure returns to pending
// with an incremented retry count and recorded error. Gaps that have
// exhausted maxRetries are skipped and logged.
func (d *Detector) RepairPending(ctx context.Context) error {
	gaps, err := d.store.ListGapsByStatus(ctx, d.chainID, pkgstore.GapStatusPending)
	if err != nil {
		return fmt.Errorf("list pending gaps: %w", err)
	}

	for _, gap := range gaps {
		if gap.RetryCount >= d.maxRetries {
			d.log.Warnw("gap exceeded max retries, leaving pending", "gap_id", gap.ID, "retry_count", gap.RetryCount)
			continue
		}
		d.repairOne(ctx, gap)
	}
	return nil
}

func (d *Detector) repairOne(ctx context.Context, gap pkgstore.Gap) {
	if err := d.store.TransitionGap(ctx, gap.ID, pkgstore.GapStatusPending, pkgstore.GapStatusRetrying, ""); err != nil {
		d.log.Warnw("failed to transition gap to retrying", "gap_id", gap.ID, "error", err)
		return
	}

	end := gap.GapEnd
	tip, err := d.store.MaxHeight(ctx, d.chainID)
	if err != nil {
		d.failGap(ctx, gap.ID, fmt.Sprintf("failed to read max stored height: %v", err))
		return
	}
	if tip != nil && tip.Cmp(end) < 0 {
		end = tip
	}
	if end.Cmp(gap.GapStart) < 0 {
		// The highest stored height is below the gap's own start (e.g. a deep
		// reorg truncated the stored chain); nothing to repair yet, try again
		// later.
		d.failGap(ctx, gap.ID, "max stored height below gap start, deferring")
		return
	}

	result, err := d.syncer.SyncBatch(ctx, d.chainID, gap.GapStart, end, "")
	if err != nil {
		d.failGap(ctx, gap.ID, err.Error())
		return
	}
	if !result.Synced || result.Failed {
		d.failGap(ctx, gap.ID, "sync batch reported failure")
		return
	}

	if err := d.store.TransitionGap(ctx, gap.ID, pkgstore.GapStatusRetrying, pkgstore.GapStatusFilled, ""); err != nil {
		d.log.Warnw("failed to transition gap to filled", "gap_id", gap.ID, "error", err)
		return
	}
	gapsRepairedTotal.Inc()
	d.log.Infow("gap filled", "gap_id", gap.ID, "start", gap.GapStart, "end", end)
}

func (d *Detector) failGap(ctx context.Context, id int64, reason string) {
	if err := d.store.TransitionGap(ctx, id, pkgstore.GapStatusRetrying, pkgstore.GapStatusPending, reason); err != nil {
		d.log.Warnw("failed to transition gap back to pending", "gap_id", id, "error", err)
	}
	gapsRepairFailedTotal.Inc()
	d.log.Warnw("gap repair failed", "gap_id", id, "reason", reason)
}

// PurgeOld deletes filled gaps older than the configured retention period.
func (d *Detector) PurgeOld(ctx context.Context) (int64, error) {
	n, err := d.store.PurgeFilledGapsOlderThan(ctx, time.Now().Add(-d.retentionPeriod))
	if err != nil {
		return 0, fmt.Errorf("purge filled gaps: %w", err)
	}
	if n > 0 {
		gapsPurgedTotal.Add(float64(n))
	}
	return n, nil
}

// Start launches the periodic detect/repair/purge loop. It returns
// immediately; call Stop to terminate it.
func (d *Detector) Start(ctx context.Context) {
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	go func() {
		defer close(d.doneCh)
		ticker := time.NewTicker(d.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.runCycle(ctx)
			}
		}
	}()
}

func (d *Detector) runCycle(ctx context.Context) {
	if _, err := d.DetectAndRecord(ctx); err != nil {
		d.log.Warnw("gap detection cycle failed", "error", err)
	}
	if err := d.RepairPending(ctx); err != nil {
		d.log.Warnw("gap repair cycle failed", "error", err)
	}
	if _, err := d.PurgeOld(ctx); err != nil {
		d.log.Warnw("gap purge cycle failed", "error", err)
	}
}

// Stop terminates the background loop and waits for it to exit.
func (d *Detector) Stop() {
	if d.stopCh == nil {
		return
	}
	close(d.stopCh)
	<-d.doneCh
}
