package jobsearch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/metrics"
)

// Window is the closed time range a run extracts.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// PageSource returns one page of results.
type PageSource interface {
	Page(ctx context.Context, q Query, page int) ([]RawPosting, error)
}

// Batch is a bounded, ordered slice of fetched results.
type Batch struct {
	// Seq numbers batches from 1 in emission order.
	Seq int
	Raw []RawPosting
}

// Postings parses the batch.
func (b Batch) Postings() []Posting { return ParseBatch(b.Raw) }

// FetchStats summarizes one pagination pass.
type FetchStats struct {
	Pages   int
	Records int
	Batches int
	// StopReason is one of "empty_page", "short_page", "page_error".
	StopReason string
	PageErr    error
}

// Paginator turns a PageSource into a sequence of fixed-size batches.
type Paginator struct {
	Source    PageSource
	Phrase    string
	BatchSize int
	Metrics   *metrics.Metrics

	now func() time.Time
}

// Batches fetches pages from 1 and calls emit each time BatchSize results
// have accumulated, then once more with any remainder. Pagination stops at
// the first empty page, short page, or page error; page errors are logged and
// recorded in FetchStats, not returned. An error from emit aborts the pass and
// is returned.
func (p *Paginator) Batches(ctx context.Context, window Window, emit func(Batch) error) (FetchStats, error) {
	log := zap.L().With(zap.String("component", "jobsearch"))
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	size := p.BatchSize
	if size <= 0 {
		size = 1000
	}

	q := Query{Phrase: p.Phrase, MaxDaysOld: MaxAgeDays(now(), window.Start)}
	var (
		stats  FetchStats
		buffer []RawPosting
	)

	flush := func(n int) error {
		stats.Batches++
		b := Batch{Seq: stats.Batches, Raw: buffer[:n:n]}
		buffer = buffer[n:]
		if err := emit(b); err != nil {
			return eris.Wrapf(err, "jobsearch: emit batch %d", b.Seq)
		}
		return nil
	}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "jobsearch: paginate")
		}

		results, err := p.Source.Page(ctx, q, page)
		p.Metrics.PageFetched("adzuna", err)
		if err != nil {
			log.Warn("page fetch failed, stopping pagination", zap.Int("page", page), zap.Error(err))
			stats.StopReason = "page_error"
			stats.PageErr = err
			break
		}
		stats.Pages++
		if len(results) == 0 {
			stats.StopReason = "empty_page"
			break
		}

		stats.Records += len(results)
		p.Metrics.RecordsFetched("adzuna", len(results))
		buffer = append(buffer, results...)
		for len(buffer) >= size {
			if err := flush(size); err != nil {
				return stats, err
			}
		}

		if len(results) < PageSize {
			stats.StopReason = "short_page"
			break
		}
	}

	if len(buffer) > 0 {
		if err := flush(len(buffer)); err != nil {
			return stats, err
		}
	}

	log.Info("pagination finished",
		zap.Int("pages", stats.Pages),
		zap.Int("records", stats.Records),
		zap.Int("batches", stats.Batches),
		zap.String("stop_reason", stats.StopReason),
		zap.Int("max_days_old", q.MaxDaysOld),
	)
	return stats, nil
}
