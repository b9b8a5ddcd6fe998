package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/objstore"
)

// DefaultMaxSkew is how far the nearest forecast hour may be from now.
const DefaultMaxSkew = 90 * time.Minute

const openMeteoTimeLayout = "2006-01-02T15:04"

// NearestIndex returns the index of the time closest to target. Ties go to
// the earlier time. ok is false when times is empty or the closest time is
// more than maxSkew away.
func NearestIndex(times []time.Time, target time.Time, maxSkew time.Duration) (int, bool) {
	best := -1
	var bestDist time.Duration
	for i, t := range times {
		d := t.Sub(target).Abs()
		if best == -1 || d < bestDist || (d == bestDist && t.Before(times[best])) {
			best, bestDist = i, d
		}
	}
	if best == -1 || bestDist > maxSkew {
		return -1, false
	}
	return best, true
}

// Observation is the stored current-hour document.
type Observation struct {
	Timestamp string         `json:"timestamp"`
	Date      string         `json:"date"`
	Hour      int            `json:"hour"`
	Location  LocationDoc    `json:"location"`
	Weather   map[string]any `json:"weather"`
	Metadata  Metadata       `json:"metadata"`
}

// HourlyResult summarizes one hourly collection.
type HourlyResult struct {
	Timestamp        time.Time `json:"timestamp"`
	Success          bool      `json:"success"`
	DataCollected    bool      `json:"data_collected"`
	WeatherTimestamp string    `json:"weather_timestamp,omitempty"`
	Key              string    `json:"key,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// HourlyKey is the object key for an observation at local time t.
func HourlyKey(t time.Time) string {
	return fmt.Sprintf("current/year=%d/month=%02d/day=%02d/hour=%02d/weather_data.json",
		t.Year(), int(t.Month()), t.Day(), t.Hour())
}

// HourlyCollector stores the forecast value for the current hour.
type HourlyCollector struct {
	client  *Client
	bucket  objstore.Bucket
	maxSkew time.Duration
	now     func() time.Time
}

// NewHourlyCollector creates a collector. A zero maxSkew uses DefaultMaxSkew.
func NewHourlyCollector(client *Client, bucket objstore.Bucket, maxSkew time.Duration) *HourlyCollector {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &HourlyCollector{client: client, bucket: bucket, maxSkew: maxSkew, now: time.Now}
}

// Collect fetches, selects, and stores the current hour. Failures are
// reported in the result rather than returned.
func (h *HourlyCollector) Collect(ctx context.Context) HourlyResult {
	log := zap.L().With(zap.String("component", "weather.hourly"))
	res := HourlyResult{Timestamp: h.now().UTC()}

	obs, err := h.observe(ctx)
	if err != nil {
		log.Error("hourly collection failed", zap.Error(err))
		res.Error = err.Error()
		return res
	}
	if obs == nil {
		return res
	}
	res.DataCollected = true
	res.WeatherTimestamp = obs.Timestamp

	ts, _ := time.Parse(time.RFC3339, obs.Timestamp)
	key := HourlyKey(ts)
	body, err := json.MarshalIndent(obs, "", "  ")
	if err != nil {
		res.Error = eris.Wrap(err, "weather: encode observation").Error()
		return res
	}
	if err := h.bucket.Put(ctx, key, body, objstore.PutOptions{ContentType: "application/json"}); err != nil {
		log.Error("failed to store observation", zap.String("key", key), zap.Error(err))
		res.Error = err.Error()
		return res
	}

	log.Info("observation stored", zap.String("bucket", h.bucket.Name()), zap.String("key", key))
	res.Success = true
	res.Key = key
	return res
}

// observe returns nil, nil when no forecast hour is close enough to now.
func (h *HourlyCollector) observe(ctx context.Context) (*Observation, error) {
	loc := h.client.Location()
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "weather: load timezone %s", loc.Timezone)
	}

	raw, err := h.client.Forecast(ctx)
	if err != nil {
		return nil, err
	}
	if raw.Hourly == nil {
		zap.L().Warn("forecast response has no hourly block")
		return nil, nil
	}

	labels := raw.Hourly.Times()
	times := make([]time.Time, len(labels))
	for i, s := range labels {
		t, err := time.ParseInLocation(openMeteoTimeLayout, s, tz)
		if err != nil {
			return nil, eris.Wrapf(err, "weather: parse forecast time %q", s)
		}
		times[i] = t
	}

	current := startOfHour(h.now().In(tz))
	idx, ok := NearestIndex(times, current, h.maxSkew)
	if !ok {
		zap.L().Warn("current hour not found in forecast",
			zap.Time("target", current),
			zap.Int("hours", len(times)),
		)
		return nil, nil
	}

	doc, err := loc.Doc()
	if err != nil {
		return nil, err
	}
	t := times[idx]
	return &Observation{
		Timestamp: t.Format(time.RFC3339),
		Date:      t.Format(time.DateOnly),
		Hour:      t.Hour(),
		Location:  doc,
		Weather:   raw.Hourly.Row(idx, HourlyVariables),
		Metadata: Metadata{
			DataSource:  "open_meteo_current",
			APIVersion:  "v1",
			CollectedAt: h.now().UTC(),
		},
	}, nil
}

// startOfHour drops minutes and seconds on t's wall clock, including in zones
// whose offset is not a whole number of hours.
func startOfHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}
