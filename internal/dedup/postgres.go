package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store over the alerts and maintenance_tickets tables.
// Each insert takes a transaction-scoped advisory lock on its duplicate key,
// so two writers racing on the same key cannot both pass the check.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// InsertAlert implements Gate.
func (s *PostgresStore) InsertAlert(ctx context.Context, a *Alert, window time.Duration) (bool, error) {
	now := s.now().UTC()
	cutoff := now.Add(-effectiveWindow(window))

	var inserted bool
	err := s.withKeyLock(ctx, AlertKey(a.MachineID, a.Message), func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO alerts (machine_id, message, severity, created_at)
			SELECT $1::bigint, $2::text, $3::text, $4::timestamptz
			WHERE NOT EXISTS (
				SELECT 1 FROM alerts
				WHERE machine_id = $1 AND message = $2 AND created_at > $5
			)
			RETURNING id`,
			a.MachineID, a.Message, string(a.Severity), now, cutoff,
		).Scan(&a.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert alert: %w", err)
		}
		a.Timestamp = now
		inserted = true
		return nil
	})
	return inserted, err
}

// InsertTicket implements Gate.
func (s *PostgresStore) InsertTicket(ctx context.Context, t *Ticket) (bool, error) {
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := s.now().UTC()

	var inserted bool
	err := s.withKeyLock(ctx, TicketKey(t.MachineID, t.Issue, t.Status), func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO maintenance_tickets (machine_id, issue, status, created_at)
			SELECT $1::bigint, $2::text, $3::text, $4::timestamptz
			WHERE NOT EXISTS (
				SELECT 1 FROM maintenance_tickets
				WHERE machine_id = $1 AND issue = $2 AND status = $3
			)
			RETURNING id`,
			t.MachineID, t.Issue, string(t.Status), now,
		).Scan(&t.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		t.Date = now
		inserted = true
		return nil
	})
	return inserted, err
}

// ListAlerts implements Store, newest first.
func (s *PostgresStore) ListAlerts(ctx context.Context, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	var alerts []*Alert
	if err := pgxscan.Select(ctx, s.db, &alerts, `
		SELECT id, machine_id, message, severity, created_at
		FROM alerts
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit,
	); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// ListTickets implements Store, newest first.
func (s *PostgresStore) ListTickets(ctx context.Context, statuses []TicketStatus, limit int) ([]*Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}

	var tickets []*Ticket
	if err := pgxscan.Select(ctx, s.db, &tickets, `
		SELECT id, machine_id, issue, status, created_at
		FROM maintenance_tickets
		WHERE cardinality($1::text[]) = 0 OR status = ANY($1::text[])
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, filter, limit,
	); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// UpdateTicketStatus implements Store. Reopening runs under the PENDING key
// lock, the same lock InsertTicket takes for that key.
func (s *PostgresStore) UpdateTicketStatus(ctx context.Context, id int64, status TicketStatus) error {
	if status != StatusPending {
		tag, err := s.db.Exec(ctx,
			`UPDATE maintenance_tickets SET status = $2 WHERE id = $1`, id, string(status))
		if err != nil {
			return fmt.Errorf("update ticket status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	var (
		machineID int64
		issue     string
	)
	err := s.db.QueryRow(ctx,
		`SELECT machine_id, issue FROM maintenance_tickets WHERE id = $1`, id,
	).Scan(&machineID, &issue)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read ticket: %w", err)
	}

	return s.withKeyLock(ctx, TicketKey(machineID, issue, status), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE maintenance_tickets SET status = $2
			WHERE id = $1 AND NOT EXISTS (
				SELECT 1 FROM maintenance_tickets
				WHERE machine_id = $3 AND issue = $4 AND status = $2 AND id <> $1
			)`,
			id, string(status), machineID, issue,
		)
		if err != nil {
			return fmt.Errorf("update ticket status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrTicketConflict
		}
		return nil
	})
}

func (s *PostgresStore) withKeyLock(ctx context.Context, key string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
		return fmt.Errorf("acquire dedup lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
