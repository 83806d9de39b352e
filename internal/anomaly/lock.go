package anomaly

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// scanLockKey is the session advisory lock held for the duration of a scan
// by whichever process runs it. The value must never change.
const scanLockKey = int64(7_310_402_119)

// ScanLock excludes scans across Scanners that share the same stores.
// TryAcquire reports false when another holder has it; release must be
// called exactly once after a successful acquire.
type ScanLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

type nopLock struct{}

func (nopLock) TryAcquire(context.Context) (func(), bool, error) { return func() {}, true, nil }

// MemoryScanLock is a ScanLock for Scanners in one process.
type MemoryScanLock struct {
	mu sync.Mutex
}

// TryAcquire implements ScanLock.
func (l *MemoryScanLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// PostgresScanLock holds pg_try_advisory_lock on a dedicated pooled
// connection, so every process scanning the database sees it.
type PostgresScanLock struct {
	db *pgxpool.Pool
}

// NewPostgresScanLock creates a PostgresScanLock over the given pool.
func NewPostgresScanLock(db *pgxpool.Pool) *PostgresScanLock {
	return &PostgresScanLock{db: db}
}

// TryAcquire implements ScanLock. The lock is session-scoped, so the
// connection stays checked out until release.
func (l *PostgresScanLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire scan lock connection: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", scanLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try scan lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// The scan context may already be cancelled.
		if _, err := conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", scanLockKey); err != nil {
			// A connection in an unknown state must not return to the pool
			// still holding the lock.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}
	return release, true, nil
}
