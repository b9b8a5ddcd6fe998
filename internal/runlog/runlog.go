// Package runlog records every job run in lake.job_runs.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/db"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Entry is a row of lake.job_runs.
type Entry struct {
	ID          int64          `json:"id" yaml:"id"`
	Job         string         `json:"job" yaml:"job"`
	RunID       string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status      string         `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Records     int64          `json:"records" yaml:"records"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Result is what a finished run reports to Complete.
type Result struct {
	Records  int64
	Metadata map[string]any
}

// Log reads and writes lake.job_runs.
type Log struct {
	pool db.Pool
}

// New creates a Log backed by pool.
func New(pool db.Pool) *Log {
	return &Log{pool: pool}
}

// Start inserts a running row and returns its id.
func (l *Log) Start(ctx context.Context, job, runID string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO lake.job_runs (job, run_id, status, started_at)
		 VALUES ($1, $2, 'running', now()) RETURNING id`,
		job, runID,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start %s", job)
	}
	return id, nil
}

// Complete marks a run successful.
func (l *Log) Complete(ctx context.Context, id int64, res Result) error {
	var meta []byte
	if res.Metadata != nil {
		var err error
		if meta, err = json.Marshal(res.Metadata); err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE lake.job_runs
		 SET status = 'complete', completed_at = now(), records = $1, metadata = $2
		 WHERE id = $3`,
		res.Records, meta, id,
	)
	return eris.Wrapf(err, "runlog: complete run %d", id)
}

// Fail marks a run failed.
func (l *Log) Fail(ctx context.Context, id int64, msg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE lake.job_runs
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		msg, id,
	)
	return eris.Wrapf(err, "runlog: fail run %d", id)
}

// LastSuccess returns when job last completed, or nil if it never has.
func (l *Log) LastSuccess(ctx context.Context, job string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM lake.job_runs
		 WHERE job = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		job,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: last success for %s", job)
	}
	return &t, nil
}

// ListAll returns up to limit runs, newest first. limit <= 0 returns all.
func (l *Log) ListAll(ctx context.Context, limit int) ([]Entry, error) {
	sql := `SELECT id, job, run_id, status, started_at, completed_at, records, error, metadata
		 FROM lake.job_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		sql += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			runID  *string
			errStr *string
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &e.Job, &runID, &e.Status, &e.StartedAt, &e.CompletedAt, &e.Records, &errStr, &meta); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if runID != nil {
			e.RunID = *runID
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if meta != nil {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Track wraps fn with Start and Complete/Fail. A nil Log runs fn untracked.
// Bookkeeping failures are logged and never mask fn's own result.
func (l *Log) Track(ctx context.Context, job, runID string, fn func(ctx context.Context) (Result, error)) error {
	if l == nil {
		_, err := fn(ctx)
		return err
	}
	log := zap.L().With(zap.String("component", "runlog"), zap.String("job", job))

	id, startErr := l.Start(ctx, job, runID)
	if startErr != nil {
		log.Warn("could not record run start", zap.Error(startErr))
	}

	res, err := fn(ctx)
	if startErr != nil {
		return err
	}

	if err != nil {
		if ferr := l.Fail(ctx, id, err.Error()); ferr != nil {
			log.Warn("could not record run failure", zap.Error(ferr))
		}
		return err
	}
	if cerr := l.Complete(ctx, id, res); cerr != nil {
		log.Warn("could not record run completion", zap.Error(cerr))
	}
	return nil
}
