package store

import (
	"context"
	"database/sql"
	"math/big"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chainindexor/blockindexer/internal/logger"
	pkgstore "github.com/chainindexor/blockindexer/pkg/store"
)

func newTestStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, logger.NewNopLogger()), mock
}

func TestUpsertBlocks_ClassifiesInsertUpdateUnchanged(t *testing.T) {
	s, mock := newTestStore(t)

	blocks := []pkgstore.Block{
		{ChainID: 1, Number: big.NewInt(10), Hash: "0x" + repeat("a", 64), ParentHash: "0x" + repeat("b", 64), Timestamp: big.NewInt(1000)},
		{ChainID: 1, Number: big.NewInt(11), Hash: "0x" + repeat("c", 64), ParentHash: "0x" + repeat("a", 64), Timestamp: big.NewInt(1001)},
		{ChainID: 1, Number: big.NewInt(12), Hash: "0x" + repeat("d", 64), ParentHash: "0x" + repeat("c", 64), Timestamp: big.NewInt(1002)},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO blocks").
		WillReturnRows(sqlmock.NewRows([]string{"fresh"}).AddRow(true))
	mock.ExpectQuery("INSERT INTO blocks").
		WillReturnRows(sqlmock.NewRows([]string{"fresh"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO blocks").
		WillReturnRows(sqlmock.NewRows([]string{"fresh"}))
	mock.ExpectCommit()

	outcomes, err := s.UpsertBlocks(context.Background(), blocks)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.UpsertOutcome{
		pkgstore.OutcomeInserted,
		pkgstore.OutcomeUpdated,
		pkgstore.OutcomeUnchanged,
	}, outcomes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBlocks_RejectsMalformedHash(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	blocks := []pkgstore.Block{
		{ChainID: 1, Number: big.NewInt(10), Hash: "not-a-hash", ParentHash: "0x" + repeat("b", 64), Timestamp: big.NewInt(1000)},
	}

	_, err := s.UpsertBlocks(context.Background(), blocks)
	require.Error(t, err)
	var invalidHash *pkgstore.ErrInvalidHash
	require.ErrorAs(t, err, &invalidHash)
}

func TestUpsertBlocks_Empty(t *testing.T) {
	s, _ := newTestStore(t)
	outcomes, err := s.UpsertBlocks(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestDeleteBlocksAfter_RefusesBeyondMaxDepth(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM blocks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(50)))

	_, err := s.DeleteBlocksAfter(context.Background(), 1, big.NewInt(100), 10)
	require.Error(t, err)
	var tooDeep *pkgstore.ErrDeleteTooDeep
	require.ErrorAs(t, err, &tooDeep)
	require.Equal(t, int64(50), tooDeep.Count)
}

func TestDeleteBlocksAfter_DeletesWithinDepth(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM blocks").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec("DELETE FROM blocks").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteBlocksAfter(context.Background(), 1, big.NewInt(100), 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestMaxHeight_NoBlocksReturnsNil(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT MAX\\(number\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	h, err := s.MaxHeight(context.Background(), 1)
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestMaxHeight_RejectsScientificNotation(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT MAX\\(number\\)").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow("1e20"))

	_, err := s.MaxHeight(context.Background(), 1)
	require.Error(t, err)
	var sciErr *pkgstore.ErrScientificNotation
	require.ErrorAs(t, err, &sciErr)
}

func TestCoverageStats_ZeroBlocks(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), MAX\\(number\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(int64(0), nil))

	stats, err := s.CoverageStats(context.Background(), 1)
	require.NoError(t, err)
	require.Zero(t, stats.Total)
	require.Equal(t, float64(0), stats.CoveragePercent)
}

func TestCoverageStats_FullCoverage(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\), MAX\\(number\\)").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(int64(101), "100"))

	stats, err := s.CoverageStats(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(101), stats.Total)
	require.Equal(t, big.NewInt(101), stats.Expected)
	require.Equal(t, big.NewInt(0), stats.Missing)
	require.InDelta(t, 100.0, stats.CoveragePercent, 0.001)
}

func TestAdvanceCheckpoint_CASConflictReturnsFalse(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO sync_status").
		WillReturnError(sql.ErrNoRows)

	ok, err := s.AdvanceCheckpoint(context.Background(), 1, big.NewInt(100), big.NewInt(200), big.NewInt(500))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAdvanceCheckpoint_Success(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("INSERT INTO sync_status").
		WillReturnRows(sqlmock.NewRows([]string{"next_block"}).AddRow("200"))

	ok, err := s.AdvanceCheckpoint(context.Background(), 1, big.NewInt(100), big.NewInt(200), big.NewInt(500))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransitionGap_NoMatchingRowErrors(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("UPDATE sync_gaps").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TransitionGap(context.Background(), 1, pkgstore.GapStatusPending, pkgstore.GapStatusRetrying, "")
	require.Error(t, err)
}

func TestPurgeFilledGapsOlderThan(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectExec("DELETE FROM sync_gaps").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.PurgeFilledGapsOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
}

func repeat(s string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = s[0]
	}
	return string(out)
}
