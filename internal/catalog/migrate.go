// Package catalog owns the Postgres side of the lake: schema migrations and
// the queryable postings table.
package catalog

import (
	"context"
	"embed"
	"io/fs"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID is the pg_advisory_lock key held while migrating.
const migrationLockID = 7302024

const ensureMigrationTable = `
CREATE SCHEMA IF NOT EXISTS lake;
CREATE TABLE IF NOT EXISTS lake.schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// Pending lists embedded migrations not yet recorded in
// lake.schema_migrations, in apply order.
func Pending(ctx context.Context, pool db.Pool) ([]string, error) {
	if _, err := pool.Exec(ctx, ensureMigrationTable); err != nil {
		return nil, eris.Wrap(err, "catalog: ensure migration table")
	}
	names, err := migrationNames()
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(names, func(n string) bool { return applied[n] }), nil
}

// Migrate applies every pending migration under an advisory lock. Each file
// commits together with its schema_migrations row.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "catalog.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "catalog: acquire migration lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("failed to release migration lock", zap.Error(err))
		}
	}()

	pending, err := Pending(ctx, pool)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Info("catalog schema up to date")
		return nil
	}

	for _, name := range pending {
		if err := applyMigration(ctx, pool, name); err != nil {
			return err
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func applyMigration(ctx context.Context, pool db.Pool, name string) error {
	body, err := migrationFS.ReadFile("migrations/" + name)
	if err != nil {
		return eris.Wrapf(err, "catalog: read migration %s", name)
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "catalog: begin migration %s", name)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, string(body)); err != nil {
		return eris.Wrapf(err, "catalog: apply migration %s", name)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO lake.schema_migrations (filename) VALUES ($1)", name); err != nil {
		return eris.Wrapf(err, "catalog: record migration %s", name)
	}
	return eris.Wrapf(tx.Commit(ctx), "catalog: commit migration %s", name)
}

func migrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM lake.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query applied migrations")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "catalog: scan applied migrations")
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}
