package anomaly

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one entry of the anomaly snapshot.
type Row struct {
	MachineID     int64     `json:"machine_id"     db:"machine_id"`
	PerformanceID int64     `json:"performance_id" db:"performance_id"`
	Score         float64   `json:"score"          db:"score"`
	IsAnomaly     bool      `json:"is_anomaly"     db:"is_anomaly"`
	Timestamp     time.Time `json:"timestamp"      db:"created_at"`
}

// SnapshotStore holds the result of the latest scan. Replace swaps the
// whole contents atomically; readers see either the old set or the new one.
type SnapshotStore interface {
	Replace(ctx context.Context, rows []Row) error
	List(ctx context.Context) ([]Row, error)
}

// MemorySnapshot is an in-memory SnapshotStore.
type MemorySnapshot struct {
	mu   sync.RWMutex
	rows []Row
}

// NewMemorySnapshot creates an empty MemorySnapshot.
func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{}
}

// Replace implements SnapshotStore.
func (m *MemorySnapshot) Replace(_ context.Context, rows []Row) error {
	next := slices.Clone(rows)
	m.mu.Lock()
	m.rows = next
	m.mu.Unlock()
	return nil
}

// List implements SnapshotStore.
func (m *MemorySnapshot) List(context.Context) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.rows)
	if out == nil {
		out = []Row{}
	}
	return out, nil
}

// PostgresSnapshot stores the snapshot in the anomaly_snapshot table.
type PostgresSnapshot struct {
	db *pgxpool.Pool
}

// NewPostgresSnapshot creates a PostgresSnapshot.
func NewPostgresSnapshot(db *pgxpool.Pool) *PostgresSnapshot {
	return &PostgresSnapshot{db: db}
}

var snapshotColumns = []string{"machine_id", "performance_id", "score", "is_anomaly", "created_at"}

// Replace implements SnapshotStore with a delete and bulk copy in one transaction.
func (p *PostgresSnapshot) Replace(ctx context.Context, rows []Row) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM anomaly_snapshot"); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	src := pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		r := rows[i]
		return []any{r.MachineID, r.PerformanceID, r.Score, r.IsAnomaly, r.Timestamp}, nil
	})
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"anomaly_snapshot"}, snapshotColumns, src); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// List implements SnapshotStore, ordered by performance ID.
func (p *PostgresSnapshot) List(ctx context.Context) ([]Row, error) {
	rows := []Row{}
	if err := pgxscan.Select(ctx, p.db, &rows, `
		SELECT machine_id, performance_id, score, is_anomaly, created_at
		FROM anomaly_snapshot
		ORDER BY performance_id ASC`,
	); err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	return rows, nil
}
