package lock

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/config"
)

func newTestLock(t *testing.T) (*Lock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.LockConfig{
		Name:          "test-lock",
		LeaseDuration: config.Duration{Duration: time.Minute},
		SweepInterval: config.Duration{Duration: time.Second},
	}
	return New(db, cfg, "instance-1", logger.NewNopLogger()), mock
}

func TestKey_IsDeterministic(t *testing.T) {
	require.Equal(t, Key("foo"), Key("foo"))
	require.NotEqual(t, Key("foo"), Key("bar"))
}

func TestTryAcquire_Success(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("INSERT INTO app_locks").
		WithArgs(l.name, l.instanceID, l.leaseDuration.Seconds()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	acquired, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquire_AlreadyHeld(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	acquired, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	require.False(t, acquired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_UnlocksAndClearsRow(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
	mock.ExpectExec("DELETE FROM app_locks").
		WithArgs(l.name, l.instanceID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := l.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLock_ReturnsErrLockHeldWhenContended(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	called := false
	err := l.WithLock(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockHeld)
	require.False(t, called)
}

func TestWithLock_RunsFnAndReleases(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("INSERT INTO app_locks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT pg_advisory_unlock").
		WithArgs(l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
	mock.ExpectExec("DELETE FROM app_locks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	called := false
	err := l.WithLock(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireFencingOnly_SucceedsWhenExpired(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectExec("INSERT INTO app_locks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	acquired, err := l.TryAcquireFencingOnly(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestTryAcquireFencingOnly_FailsWhenHeldAndNotExpired(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectExec("INSERT INTO app_locks").
		WillReturnResult(sqlmock.NewResult(0, 0))

	acquired, err := l.TryAcquireFencingOnly(context.Background())
	require.NoError(t, err)
	require.False(t, acquired)
}

func TestSweepExpired_DeletesStaleRows(t *testing.T) {
	l, mock := newTestLock(t)

	mock.ExpectExec("DELETE FROM app_locks WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := l.sweepExpired(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartStopSweeper(t *testing.T) {
	l, mock := newTestLock(t)
	l.sweepInterval = 5 * time.Millisecond

	mock.MatchExpectationsInOrder(false)
	mock.ExpectExec("DELETE FROM app_locks WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	l.StartSweeper(context.Background())
	time.Sleep(20 * time.Millisecond)
	l.StopSweeper()
}
