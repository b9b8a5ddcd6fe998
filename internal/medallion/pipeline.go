package medallion

import (
	"context"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakvale/lakehouse-jobs/internal/metrics"
	"github.com/oakvale/lakehouse-jobs/internal/objstore"
)

// Config locates the raw landing zone and the lakehouse tables.
type Config struct {
	// RawPrefix holds one directory level of JSON files, e.g. Movies/<batch>/x.json.
	RawPrefix string
	// Prefix is the root of the tier tables.
	Prefix string
}

// Pipeline runs the tier transforms. Raw files are read from raw and every
// tier table lives in lake.
type Pipeline struct {
	raw     objstore.Bucket
	lake    objstore.Bucket
	cfg     Config
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New creates a Pipeline.
func New(raw, lake objstore.Bucket, cfg Config, m *metrics.Metrics) *Pipeline {
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "Movies"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lakehouse"
	}
	return &Pipeline{
		raw:     raw,
		lake:    lake,
		cfg:     cfg,
		metrics: m,
		log:     zap.L().With(zap.String("component", "medallion")),
	}
}

// Key returns the object key of a tier table.
func (p *Pipeline) Key(tier, table string) string {
	return TableKey(p.cfg.Prefix, tier, table)
}

// Bronze unions every raw movie file into the bronze table and returns the
// row count.
func (p *Pipeline) Bronze(ctx context.Context) (int, error) {
	prefix := strings.Trim(p.cfg.RawPrefix, "/") + "/"
	keys, err := p.raw.List(ctx, prefix)
	if err != nil {
		return 0, eris.Wrap(err, "medallion: list raw movies")
	}

	pattern := prefix + "*/*.json"
	var rows []Movie
	files := 0
	for _, key := range keys {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}
		body, err := p.raw.Get(ctx, key)
		if err != nil {
			return 0, eris.Wrapf(err, "medallion: read %s", key)
		}
		movies, err := DecodeMovies(body)
		if err != nil {
			return 0, eris.Wrapf(err, "medallion: parse %s", key)
		}
		rows = append(rows, movies...)
		files++
	}
	if files == 0 {
		return 0, eris.Errorf("medallion: no raw files match %s", pattern)
	}

	if err := write(ctx, p, TierBronze, MoviesTable, rows); err != nil {
		return 0, err
	}
	p.log.Info("bronze table written", zap.Int("files", files), zap.Int("rows", len(rows)))
	return len(rows), nil
}

// Silver deduplicates and cleans the bronze table. The first row seen for
// an id wins.
func (p *Pipeline) Silver(ctx context.Context) (int, error) {
	bronze, err := ReadTable[Movie](ctx, p.lake, p.Key(TierBronze, MoviesTable))
	if err != nil {
		return 0, err
	}

	seen := make(map[MovieID]struct{}, len(bronze))
	rows := make([]CleanMovie, 0, len(bronze))
	for _, m := range bronze {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		rows = append(rows, Clean(m))
	}

	if err := write(ctx, p, TierSilver, MoviesTable, rows); err != nil {
		return 0, err
	}
	p.log.Info("silver table written",
		zap.Int("bronze_rows", len(bronze)),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

// Gold aggregates the silver table into the three metric tables and returns
// the total row count written.
func (p *Pipeline) Gold(ctx context.Context) (int, error) {
	movies, err := ReadTable[CleanMovie](ctx, p.lake, p.Key(TierSilver, MoviesTable))
	if err != nil {
		return 0, err
	}

	genres := GenreMetrics(movies)
	studios := StudioMetrics(movies)
	years := YearMetrics(movies)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return write(gctx, p, TierGold, GenreMetricsTable, genres) })
	g.Go(func() error { return write(gctx, p, TierGold, StudioMetricsTable, studios) })
	g.Go(func() error { return write(gctx, p, TierGold, YearMetricsTable, years) })
	if err := g.Wait(); err != nil {
		return 0, err
	}

	p.log.Info("gold tables written",
		zap.Int("genres", len(genres)),
		zap.Int("studios", len(studios)),
		zap.Int("years", len(years)),
	)
	return len(genres) + len(studios) + len(years), nil
}

// Stage names accepted by Run.
const (
	StageBronze = "bronze"
	StageSilver = "silver"
	StageGold   = "gold"
	StageAll    = "all"
)

// Run executes one stage, or every stage in order for StageAll.
func (p *Pipeline) Run(ctx context.Context, stage string) (int, error) {
	switch stage {
	case StageBronze:
		return p.Bronze(ctx)
	case StageSilver:
		return p.Silver(ctx)
	case StageGold:
		return p.Gold(ctx)
	case StageAll:
		total := 0
		for _, fn := range []func(context.Context) (int, error){p.Bronze, p.Silver, p.Gold} {
			n, err := fn(ctx)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	default:
		return 0, eris.Errorf("medallion: unknown stage %q", stage)
	}
}

func write[T any](ctx context.Context, p *Pipeline, tier, table string, rows []T) error {
	err := WriteTable(ctx, p.lake, p.Key(tier, table), rows)
	p.metrics.StorageOp("medallion_write", err)
	return err
}
