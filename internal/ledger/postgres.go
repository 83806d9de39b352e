package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises ledger writers across every process sharing the
// database. The value is arbitrary but must never change.
const advisoryLockKey = int64(7_310_402_118)

const selectBlocks = `
	SELECT id, performance_id, payload, prev_hash, hash, created_at
	FROM ledger_blocks ORDER BY id ASC`

// PostgresStore persists the ledger in the ledger_blocks table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// ReadAll implements Store. A single statement reads from one MVCC snapshot,
// so an in-flight repair is either fully visible or not at all.
func (s *PostgresStore) ReadAll(ctx context.Context) ([]*Block, error) {
	var blocks []*Block
	if err := pgxscan.Select(ctx, s.pool, &blocks, selectBlocks); err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return blocks, nil
}

// Atomic implements Store. The transaction takes a transaction-scoped
// advisory lock first; it is released on commit or rollback.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := t.tx.QueryRow(ctx,
		"SELECT hash FROM ledger_blocks ORDER BY id DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sentinel, nil
	}
	if err != nil {
		return "", fmt.Errorf("read ledger tail: %w", err)
	}
	return hash, nil
}

func (t *postgresTx) Insert(ctx context.Context, b *Block) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_blocks (performance_id, payload, prev_hash, hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		b.PerformanceRef, b.Payload, b.PrevHash, b.Hash, b.Timestamp,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert ledger block: %w", err)
	}
	return id, nil
}

func (t *postgresTx) ReadAll(ctx context.Context) ([]*Block, error) {
	var blocks []*Block
	if err := pgxscan.Select(ctx, t.tx, &blocks, selectBlocks); err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	return blocks, nil
}

func (t *postgresTx) DeleteAll(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM ledger_blocks"); err != nil {
		return fmt.Errorf("delete ledger blocks: %w", err)
	}
	return nil
}
