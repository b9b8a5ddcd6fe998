package watermark

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/oakvale/lakehouse-jobs/internal/db"
)

// DefaultTable is the Postgres table created by the catalog migrations.
const DefaultTable = "lake.extraction_state"

// PostgresStore keeps watermark records in Postgres.
type PostgresStore struct {
	pool  db.Pool
	table string // quoted
}

// NewPostgresStore creates a store over table (DefaultTable if empty).
func NewPostgresStore(pool db.Pool, table string) *PostgresStore {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresStore{pool: pool, table: db.QuoteTable(table)}
}

// Load returns the record for id.
func (s *PostgresStore) Load(ctx context.Context, id string) (*State, error) {
	var st State
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT state_id, last_extraction_time, total_records_extracted, version, created_at, updated_at
		 FROM %s WHERE state_id = $1`, s.table),
		id,
	).Scan(&st.ID, &st.LastExtractionTime, &st.TotalRecordsExtracted, &st.Version, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "watermark: load %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "watermark: load %s", id)
	}
	return &st, nil
}

// CompareAndSwap inserts the record for expectedVersion 0 and otherwise
// updates it only where the version still matches.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next State) error {
	var (
		sql  string
		args []any
	)
	if expectedVersion == 0 {
		sql = fmt.Sprintf(
			`INSERT INTO %s (state_id, last_extraction_time, total_records_extracted, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (state_id) DO NOTHING`, s.table)
		args = []any{next.ID, next.LastExtractionTime, next.TotalRecordsExtracted, next.Version, next.CreatedAt, next.UpdatedAt}
	} else {
		sql = fmt.Sprintf(
			`UPDATE %s
			 SET last_extraction_time = $1, total_records_extracted = $2, version = $3, updated_at = $4
			 WHERE state_id = $5 AND version = $6`, s.table)
		args = []any{next.LastExtractionTime, next.TotalRecordsExtracted, next.Version, next.UpdatedAt, next.ID, expectedVersion}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "watermark: swap %s", next.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrVersionConflict, "watermark: swap %s from version %d", next.ID, expectedVersion)
	}
	return nil
}
