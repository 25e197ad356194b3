// Package lock implements the distributed singleton enforcement described in
// spec §4.8: a Postgres advisory lock as the primary exclusion mechanism,
// backed by a supplementary app_locks fencing table for operator visibility
// and for hosts without advisory-lock support.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"hash/crc32"
	"time"

	"github.com/chainindexor/blockindexer/internal/logger"
	"github.com/chainindexor/blockindexer/pkg/config"
)

// ErrLockHeld is returned by WithLock/TryAcquire when another instance
// already holds the named lock.
var ErrLockHeld = errors.New("lock: another instance holds the lock")

// Key computes the deterministic 32-bit hash of a lock name used as the
// Postgres advisory lock key.
func Key(name string) int32 {
	return int32(crc32.ChecksumIEEE([]byte(name)))
}

// Lock guards a single named resource via pg_try_advisory_lock, mirrored
// into the app_locks table for visibility.
type Lock struct {
	db            *sql.DB
	name          string
	key           int32
	instanceID    string
	leaseDuration time.Duration
	sweepInterval time.Duration
	log           *logger.Logger

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New builds a Lock from a (defaulted) config.LockConfig.
func New(db *sql.DB, cfg config.LockConfig, instanceID string, log *logger.Logger) *Lock {
	name := cfg.Name
	if name == "" {
		name = "blockindexer-sync"
	}
	leaseDuration := cfg.LeaseDuration.Duration
	if leaseDuration == 0 {
		leaseDuration = 5 * time.Minute
	}
	sweepInterval := cfg.SweepInterval.Duration
	if sweepInterval == 0 {
		sweepInterval = 1 * time.Minute
	}

	return &Lock{
		db:            db,
		name:          name,
		key:           Key(name),
		instanceID:    instanceID,
		leaseDuration: leaseDuration,
		sweepInterval: sweepInterval,
		log:           log.WithComponent("lock"),
	}
}

// TryAcquire attempts a non-blocking session-level advisory lock and, on
// success, records the acquisition in app_locks for visibility. The
// advisory lock is released automatically if the underlying connection
// closes.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	var acquired bool
	if err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		return false, err
	}
	lockAttemptsTotal.WithLabelValues(l.name).Inc()
	if !acquired {
		lockContendedTotal.WithLabelValues(l.name).Inc()
		return false, nil
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO app_locks (name, instance_id, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 second')
		ON CONFLICT (name) DO UPDATE
		SET instance_id = EXCLUDED.instance_id, expires_at = EXCLUDED.expires_at
	`, l.name, l.instanceID, l.leaseDuration.Seconds())
	if err != nil {
		l.log.Warnw("failed to record advisory lock in app_locks", "error", err)
	}

	lockHeld.WithLabelValues(l.name).Set(1)
	return true, nil
}

// Release releases the session-level advisory lock and clears the app_locks
// visibility row.
func (l *Lock) Release(ctx context.Context) error {
	var released bool
	if err := l.db.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released); err != nil {
		return err
	}

	if _, err := l.db.ExecContext(ctx, "DELETE FROM app_locks WHERE name = $1 AND instance_id = $2", l.name, l.instanceID); err != nil {
		l.log.Warnw("failed to clear app_locks row", "error", err)
	}

	lockHeld.WithLabelValues(l.name).Set(0)
	return nil
}

// WithLock acquires the lock, runs fn, and guarantees release even if fn
// panics or returns an error. Returns ErrLockHeld if another instance
// already holds it.
func (l *Lock) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	acquired, err := l.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockHeld
	}
	defer func() {
		if relErr := l.Release(ctx); relErr != nil {
			l.log.Warnw("failed to release advisory lock", "error", relErr)
		}
	}()
	return fn(ctx)
}

// TryAcquireFencingOnly attempts acquisition via the app_locks table alone,
// for hosts without advisory-lock support. The upsert is guarded by
// WHERE expires_at < now() so a stale lock self-heals.
func (l *Lock) TryAcquireFencingOnly(ctx context.Context) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO app_locks (name, instance_id, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 second')
		ON CONFLICT (name) DO UPDATE
		SET instance_id = EXCLUDED.instance_id, expires_at = EXCLUDED.expires_at
		WHERE app_locks.expires_at < now()
	`, l.name, l.instanceID, l.leaseDuration.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	acquired := n > 0
	if acquired {
		lockHeld.WithLabelValues(l.name).Set(1)
	} else {
		lockContendedTotal.WithLabelValues(l.name).Inc()
	}
	return acquired, nil
}

// StartSweeper launches a background goroutine that deletes expired
// app_locks rows every sweepInterval, self-healing stale fencing records
// left behind by a crashed instance.
func (l *Lock) StartSweeper(ctx context.Context) {
	l.stopSweep = make(chan struct{})
	l.sweepDone = make(chan struct{})

	go func() {
		defer close(l.sweepDone)
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopSweep:
				return
			case <-ticker.C:
				if err := l.sweepExpired(ctx); err != nil {
					l.log.Warnw("lock sweep failed", "error", err)
				}
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (l *Lock) StopSweeper() {
	if l.stopSweep == nil {
		return
	}
	close(l.stopSweep)
	<-l.sweepDone
}

func (l *Lock) sweepExpired(ctx context.Context) error {
	res, err := l.db.ExecContext(ctx, "DELETE FROM app_locks WHERE expires_at < now()")
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		lockSweptTotal.Add(float64(n))
		l.log.Infow("swept expired app_locks rows", "count", n)
	}
	return nil
}
