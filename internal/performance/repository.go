package performance

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads performance records from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Records returns every performance record with its machine name, ascending by ID.
func (r *Repository) Records(ctx context.Context) ([]*Record, error) {
	var recs []*Record
	if err := pgxscan.Select(ctx, r.db, &recs, `
		SELECT p.id, p.machine_id, COALESCE(m.name, '') AS machine_name,
		       p.operating_time, p.downtime, p.actual_output, p.ideal_output,
		       p.good_units, p.total_units
		FROM performance_data p
		LEFT JOIN machines m ON m.id = p.machine_id
		ORDER BY p.id ASC`,
	); err != nil {
		return nil, fmt.Errorf("list performance records: %w", err)
	}
	return recs, nil
}

// Features implements Source. OEE is recomputed from the raw columns.
func (r *Repository) Features(ctx context.Context) ([]FeatureRow, error) {
	recs, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]FeatureRow, len(recs))
	for i, rec := range recs {
		rows[i] = rec.Row()
	}
	return rows, nil
}
