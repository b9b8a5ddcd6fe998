package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakvale/lakehouse-jobs/internal/objstore"
)

// Month is a calendar month.
type Month struct {
	Year  int
	Month time.Month
}

func (m Month) String() string { return fmt.Sprintf("%d-%02d", m.Year, int(m.Month)) }

// Key is the object key holding the month's daily records.
func (m Month) Key() string {
	return fmt.Sprintf("historical/year=%d/month=%02d/weather_data.json", m.Year, int(m.Month))
}

// Range returns the first and last day of m in loc, with the last day
// clamped to today. future is true when m starts after now.
func (m Month) Range(now time.Time, loc *time.Location) (start, end time.Time, future bool) {
	start = time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, loc)
	end = start.AddDate(0, 1, -1)
	today := now.In(loc)
	if start.After(today) {
		return start, end, true
	}
	if end.After(today) {
		end = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
	}
	return start, end, false
}

// MonthsBack lists every month from yearsBack years before now through the
// current month, oldest first.
func MonthsBack(now time.Time, yearsBack int) []Month {
	first := now.AddDate(-yearsBack, 0, 0)
	cur := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []Month
	for !cur.After(last) {
		out = append(out, Month{Year: cur.Year(), Month: cur.Month()})
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// DailyRecord is one stored day.
type DailyRecord struct {
	Date     string         `json:"date"`
	Year     int            `json:"year"`
	Month    int            `json:"month"`
	Location LocationDoc    `json:"location"`
	Weather  map[string]any `json:"weather"`
	Metadata Metadata       `json:"metadata"`
}

// HistoricalResult lists which months were stored.
type HistoricalResult struct {
	SuccessMonths []string `json:"success_months"`
	FailedMonths  []string `json:"failed_months"`
	TotalMonths   int      `json:"total_months_processed"`
}

// HistoricalCollector backfills monthly archives.
type HistoricalCollector struct {
	client      *Client
	bucket      objstore.Bucket
	concurrency int
	now         func() time.Time
}

// NewHistoricalCollector creates a collector fetching up to concurrency
// months at once.
func NewHistoricalCollector(client *Client, bucket objstore.Bucket, concurrency int) *HistoricalCollector {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &HistoricalCollector{client: client, bucket: bucket, concurrency: concurrency, now: time.Now}
}

// Collect processes every month in MonthsBack(now, yearsBack). A month that
// fails is recorded and does not stop the others.
func (h *HistoricalCollector) Collect(ctx context.Context, yearsBack int) (HistoricalResult, error) {
	log := zap.L().With(zap.String("component", "weather.historical"))
	loc := h.client.Location()
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return HistoricalResult{}, eris.Wrapf(err, "weather: load timezone %s", loc.Timezone)
	}
	doc, err := loc.Doc()
	if err != nil {
		return HistoricalResult{}, err
	}

	now := h.now()
	months := MonthsBack(now.In(tz), yearsBack)
	ok := make([]bool, len(months))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, m := range months {
		g.Go(func() error {
			err := h.collectMonth(gctx, m, now, tz, doc)
			if err != nil {
				log.Error("month failed", zap.String("month", m.String()), zap.Error(err))
			}
			mu.Lock()
			ok[i] = err == nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := HistoricalResult{TotalMonths: len(months), SuccessMonths: []string{}, FailedMonths: []string{}}
	for i, m := range months {
		if ok[i] {
			res.SuccessMonths = append(res.SuccessMonths, m.String())
		} else {
			res.FailedMonths = append(res.FailedMonths, m.String())
		}
	}
	log.Info("historical collection finished",
		zap.Int("months", res.TotalMonths),
		zap.Int("succeeded", len(res.SuccessMonths)),
		zap.Int("failed", len(res.FailedMonths)),
	)
	return res, ctx.Err()
}

func (h *HistoricalCollector) collectMonth(ctx context.Context, m Month, now time.Time, tz *time.Location, doc LocationDoc) error {
	start, end, future := m.Range(now, tz)
	if future {
		zap.L().Debug("skipping future month", zap.String("month", m.String()))
		return nil
	}

	raw, err := h.client.Archive(ctx, start, end)
	if err != nil {
		return err
	}

	records := buildDaily(raw, m, doc, now.UTC())
	if len(records) == 0 {
		return eris.Errorf("weather: no daily data for %s", m)
	}
	body, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "weather: encode %s", m)
	}
	return h.bucket.Put(ctx, m.Key(), body, objstore.PutOptions{ContentType: "application/json"})
}

func buildDaily(raw *ArchiveResponse, m Month, doc LocationDoc, collectedAt time.Time) []DailyRecord {
	if raw == nil || raw.Daily == nil {
		return nil
	}
	dates := raw.Daily.Times()
	out := make([]DailyRecord, 0, len(dates))
	for i, d := range dates {
		out = append(out, DailyRecord{
			Date:     d,
			Year:     m.Year,
			Month:    int(m.Month),
			Location: doc,
			Weather:  raw.Daily.Row(i, DailyVariables),
			Metadata: Metadata{
				DataSource:  "open_meteo_historical",
				APIVersion:  "v1",
				CollectedAt: collectedAt,
			},
		})
	}
	return out
}
