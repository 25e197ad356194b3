package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/store"
)

// fakeStore implements store.BlockStore with just enough behavior to drive
// the handlers under test; every method the handlers don't exercise panics
// if called, so an unexpected wiring shows up immediately.
type fakeStore struct {
	status       *store.SyncStatus
	statusErr    error
	checkpoints  []store.Checkpoint
	checkpointsErr error
	coverage     store.CoverageStats
	coverageErr  error
}

func (f *fakeStore) UpsertBlocks(ctx context.Context, blocks []store.Block) ([]store.UpsertOutcome, error) {
	panic("not implemented")
}
func (f *fakeStore) DeleteBlocksAfter(ctx context.Context, chainID uint64, height *big.Int, maxReorgDepth uint64) (int64, error) {
	panic("not implemented")
}
func (f *fakeStore) FindByHeight(ctx context.Context, chainID uint64, number *big.Int) (*store.Block, error) {
	panic("not implemented")
}
func (f *fakeStore) FindByHash(ctx context.Context, chainID uint64, hash string) (*store.Block, error) {
	panic("not implemented")
}
func (f *fakeStore) ExistsByHeight(ctx context.Context, chainID uint64, number *big.Int) (bool, error) {
	panic("not implemented")
}
func (f *fakeStore) ExistsByHash(ctx context.Context, chainID uint64, hash string) (bool, error) {
	panic("not implemented")
}
func (f *fakeStore) MaxHeight(ctx context.Context, chainID uint64) (*big.Int, error) {
	panic("not implemented")
}
func (f *fakeStore) DetectGaps(ctx context.Context, chainID uint64) ([]store.Gap, error) {
	panic("not implemented")
}
func (f *fakeStore) CoverageStats(ctx context.Context, chainID uint64) (store.CoverageStats, error) {
	return f.coverage, f.coverageErr
}
func (f *fakeStore) SaveCheckpoint(ctx context.Context, name string, height *big.Int, hash string, metadata []byte) (*store.Checkpoint, error) {
	panic("not implemented")
}
func (f *fakeStore) GetLatestCheckpoint(ctx context.Context, name string) (*store.Checkpoint, error) {
	panic("not implemented")
}
func (f *fakeStore) ListCheckpoints(ctx context.Context, name string) ([]store.Checkpoint, error) {
	return f.checkpoints, f.checkpointsErr
}
func (f *fakeStore) CleanupOldCheckpoints(ctx context.Context, name string, keepLatest int) (int64, error) {
	panic("not implemented")
}
func (f *fakeStore) GetSyncStatus(ctx context.Context, chainID uint64) (*store.SyncStatus, error) {
	return f.status, f.statusErr
}
func (f *fakeStore) AdvanceCheckpoint(ctx context.Context, chainID uint64, expectedFrom, toExclusive, headBlock *big.Int) (bool, error) {
	panic("not implemented")
}
func (f *fakeStore) InsertGap(ctx context.Context, gap store.Gap) error { panic("not implemented") }
func (f *fakeStore) ListGapsByStatus(ctx context.Context, chainID uint64, status store.GapStatus) ([]store.Gap, error) {
	panic("not implemented")
}
func (f *fakeStore) TransitionGap(ctx context.Context, id int64, from, to store.GapStatus, errMsg string) error {
	panic("not implemented")
}
func (f *fakeStore) PurgeFilledGapsOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	panic("not implemented")
}

func newTestHandler(st *fakeStore) *Handler {
	return NewHandler(st, 1, logger.NewNopLogger())
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestHandler_Status_Found(t *testing.T) {
	t.Parallel()

	st := &fakeStore{status: &store.SyncStatus{
		ChainID:        1,
		NextBlock:      big.NewInt(100),
		ConfirmedBlock: big.NewInt(90),
		HeadBlock:      big.NewInt(110),
	}}
	h := newTestHandler(st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	h.Status(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "100", resp.NextBlock)
	require.Equal(t, "90", resp.ConfirmedBlock)
	require.Equal(t, "110", resp.HeadBlock)
}

func TestHandler_Status_NotFound(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeStore{status: nil})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	h.Status(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Status_StoreError(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeStore{statusErr: errors.New("db unavailable")})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	h.Status(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandler_Checkpoints_DefaultsName(t *testing.T) {
	t.Parallel()

	st := &fakeStore{checkpoints: []store.Checkpoint{
		{Name: "default", BlockNumber: big.NewInt(42), BlockHash: "0xabc", SyncedAt: time.Now()},
	}}
	h := newTestHandler(st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints", nil)
	w := httptest.NewRecorder()

	h.Checkpoints(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp []CheckpointResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	require.Equal(t, "42", resp[0].BlockNumber)
}

func TestHandler_Coverage(t *testing.T) {
	t.Parallel()

	st := &fakeStore{coverage: store.CoverageStats{
		Total: 100, Expected: big.NewInt(120), Missing: big.NewInt(20), CoveragePercent: 83.3,
	}}
	h := newTestHandler(st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/coverage", nil)
	w := httptest.NewRecorder()

	h.Coverage(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp CoverageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, int64(100), resp.Total)
	require.Equal(t, "120", resp.Expected)
	require.Equal(t, "20", resp.Missing)
	require.InDelta(t, 83.3, resp.CoveragePercent, 0.001)
}

func TestHandler_Schema(t *testing.T) {
	t.Parallel()

	h := newTestHandler(&fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/schema/block", nil)
	w := httptest.NewRecorder()

	h.Schema(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	require.Contains(t, decoded, "properties")
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	respondError(w, http.StatusBadRequest, "bad input")

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "bad input", resp.Message)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}
