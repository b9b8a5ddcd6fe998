package watermark

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps watermark records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "watermark: sqlite open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "watermark: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "watermark: sqlite migrate")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS extraction_state (
	state_id                TEXT PRIMARY KEY,
	last_extraction_time    TEXT NOT NULL,
	total_records_extracted INTEGER NOT NULL DEFAULT 0,
	version                 INTEGER NOT NULL,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL
);
`

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the record for id.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*State, error) {
	var st State
	var lastExt, created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_id, last_extraction_time, total_records_extracted, version, created_at, updated_at
		 FROM extraction_state WHERE state_id = ?`, id,
	).Scan(&st.ID, &lastExt, &st.TotalRecordsExtracted, &st.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "watermark: load %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "watermark: load %s", id)
	}

	for _, f := range []struct {
		raw string
		dst *time.Time
	}{{lastExt, &st.LastExtractionTime}, {created, &st.CreatedAt}, {updated, &st.UpdatedAt}} {
		t, err := time.Parse(time.RFC3339Nano, f.raw)
		if err != nil {
			return nil, eris.Wrapf(err, "watermark: parse time %q", f.raw)
		}
		*f.dst = t
	}
	return &st, nil
}

// CompareAndSwap follows the same insert-or-guarded-update rule as
// PostgresStore.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next State) error {
	var (
		res sql.Result
		err error
	)
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO extraction_state (state_id, last_extraction_time, total_records_extracted, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (state_id) DO NOTHING`,
			next.ID, ts(next.LastExtractionTime), next.TotalRecordsExtracted, next.Version, ts(next.CreatedAt), ts(next.UpdatedAt),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE extraction_state
			 SET last_extraction_time = ?, total_records_extracted = ?, version = ?, updated_at = ?
			 WHERE state_id = ? AND version = ?`,
			ts(next.LastExtractionTime), next.TotalRecordsExtracted, next.Version, ts(next.UpdatedAt), next.ID, expectedVersion,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "watermark: swap %s", next.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "watermark: swap %s rows affected", next.ID)
	}
	if n == 0 {
		return eris.Wrapf(ErrVersionConflict, "watermark: swap %s from version %d", next.ID, expectedVersion)
	}
	return nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
