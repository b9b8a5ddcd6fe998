package main

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/fetcher"
	"github.com/oakvale/lakehouse-jobs/internal/metrics"
	"github.com/oakvale/lakehouse-jobs/internal/objstore"
	"github.com/oakvale/lakehouse-jobs/internal/runlog"
	"github.com/oakvale/lakehouse-jobs/internal/watermark"
)

// jobEnv holds the connections shared by every job a process runs.
type jobEnv struct {
	// Pool is the catalog database; nil when no catalog is configured.
	Pool    *pgxpool.Pool
	Runs    *runlog.Log
	Metrics *metrics.Metrics
	Fetcher *fetcher.HTTPFetcher

	mu       sync.Mutex
	buckets  map[string]objstore.Bucket
	memState *watermark.MemoryStore
	minio    *minio.Client
}

// openEnv prepares the catalog pool when one is configured. An unreachable
// catalog is logged, not fatal: run bookkeeping and catalog upserts degrade
// per call. The caller must Close the result.
func openEnv(ctx context.Context) (*jobEnv, error) {
	env := &jobEnv{
		Metrics: metrics.New(),
		buckets: make(map[string]objstore.Bucket),
		Fetcher: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.HTTP.UserAgent,
			Timeout:    time.Duration(cfg.HTTP.TimeoutSecs) * time.Second,
			MaxRetries: cfg.HTTP.MaxRetries,
		}),
	}

	if cfg.Catalog.DatabaseURL != "" {
		pool, err := connectPool(ctx, "catalog", cfg.Catalog.DatabaseURL)
		if err != nil {
			return nil, err
		}
		env.Pool = pool
		env.Runs = runlog.New(pool)
	}
	return env, nil
}

// Close releases the catalog pool.
func (e *jobEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

// openPool creates and pings a pgxpool.Pool.
func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}
	return pool, nil
}

// connectPool creates a pool without requiring the database to be up. A
// failed ping is logged; pgx dials again on each acquire.
func connectPool(ctx context.Context, role, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create connection pool", role)
	}
	if err := pool.Ping(ctx); err != nil {
		zap.L().Warn("database unreachable, continuing without it",
			zap.String("role", role),
			zap.Error(err),
		)
	}
	return pool, nil
}

// bucket opens the named bucket on the configured object store. Opened
// buckets are cached for the life of the process.
func (e *jobEnv) bucket(ctx context.Context, name string) (objstore.Bucket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.buckets[name]; ok {
		return b, nil
	}

	var b objstore.Bucket
	switch cfg.ObjectStore.Driver {
	case "memory":
		b = objstore.NewMemoryBucket(name)
	case "minio":
		if e.minio == nil {
			client, err := objstore.NewMinioClient(objstore.MinioConfig{
				Endpoint:  cfg.ObjectStore.Endpoint,
				AccessKey: cfg.ObjectStore.AccessKey,
				SecretKey: cfg.ObjectStore.SecretKey,
				Region:    cfg.ObjectStore.Region,
				UseSSL:    cfg.ObjectStore.UseSSL,
			})
			if err != nil {
				return nil, err
			}
			e.minio = client
		}
		mb, err := objstore.OpenMinioBucket(ctx, e.minio, name, cfg.ObjectStore.Region)
		if err != nil {
			return nil, err
		}
		b = mb
	default:
		return nil, eris.Errorf("objectstore: unknown driver %q", cfg.ObjectStore.Driver)
	}
	e.buckets[name] = b
	return b, nil
}

// watermarkStore opens the configured state backend. release frees anything
// opened for this call and is always safe to invoke.
func (e *jobEnv) watermarkStore(ctx context.Context) (store watermark.Store, release func(), err error) {
	release = func() {}
	switch cfg.State.Driver {
	case "postgres":
		dsn := cfg.StateDatabaseURL()
		if e.Pool != nil && dsn == cfg.Catalog.DatabaseURL {
			return watermark.NewPostgresStore(e.Pool, cfg.State.Table), release, nil
		}
		pool, err := connectPool(ctx, "state", dsn)
		if err != nil {
			return nil, release, err
		}
		return watermark.NewPostgresStore(pool, cfg.State.Table), pool.Close, nil
	case "sqlite":
		s, err := watermark.OpenSQLite(ctx, cfg.State.SQLitePath)
		if err != nil {
			return nil, release, err
		}
		return s, func() { _ = s.Close() }, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.State.RedisURL)
		if err != nil {
			return nil, release, eris.Wrap(err, "state: parse redis url")
		}
		client := redis.NewClient(opts)
		return watermark.NewRedisStore(client, ""), func() { _ = client.Close() }, nil
	case "memory":
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.memState == nil {
			e.memState = watermark.NewMemoryStore()
		}
		return e.memState, release, nil
	default:
		return nil, release, eris.Errorf("state: unknown driver %q", cfg.State.Driver)
	}
}

// pushMetrics sends the process metrics to the configured Pushgateway.
// Failures are logged; one-shot commands never fail because of them.
func (e *jobEnv) pushMetrics(ctx context.Context) {
	if err := e.Metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName); err != nil {
		zap.L().Warn("metrics push failed", zap.Error(err))
	}
}
