package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/oakvale/lakehouse-jobs/internal/fetcher"
	"github.com/oakvale/lakehouse-jobs/internal/objstore"
	"github.com/oakvale/lakehouse-jobs/internal/resilience"
)

var nelspruit = Location{
	Name:      "Nelspruit, Mpumalanga, South Africa",
	Latitude:  -25.4753,
	Longitude: 30.9698,
	Timezone:  "Africa/Johannesburg",
}

func newTestClient(srvURL string) *Client {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		MaxRetries: 1,
		HostRates:  map[string]rate.Limit{},
	})
	return NewClient(f, ClientConfig{
		ForecastURL: srvURL + "/v1/forecast",
		ArchiveURL:  srvURL + "/v1/archive",
		Location:    nelspruit,
		Retry:       resilience.Policy{Attempts: 1},
	})
}

func TestNearestIndex(t *testing.T) {
	base := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	hours := make([]time.Time, 24)
	for i := range hours {
		hours[i] = base.Add(time.Duration(i) * time.Hour)
	}

	tests := []struct {
		name   string
		times  []time.Time
		target time.Time
		want   int
		ok     bool
	}{
		{"exact", hours, base.Add(14 * time.Hour), 14, true},
		{"closest", hours, base.Add(14*time.Hour + 20*time.Minute), 14, true},
		{"tie goes earlier", hours, base.Add(14*time.Hour + 30*time.Minute), 14, true},
		{"beyond skew", hours[:3], base.Add(5 * time.Hour), -1, false},
		{"within skew", hours[:3], base.Add(3*time.Hour + 15*time.Minute), 2, true},
		{"empty", nil, base, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NearestIndex(tt.times, tt.target, DefaultMaxSkew)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNearestIndex_UnorderedTies(t *testing.T) {
	base := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(time.Hour), base.Add(-time.Hour)}
	idx, ok := NearestIndex(times, base, 2*time.Hour)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestHourlyKey(t *testing.T) {
	tz, err := time.LoadLocation("Africa/Johannesburg")
	require.NoError(t, err)
	ts := time.Date(2024, 3, 5, 7, 0, 0, 0, tz)
	assert.Equal(t, "current/year=2024/month=03/day=05/hour=07/weather_data.json", HourlyKey(ts))
}

func TestLocationDoc(t *testing.T) {
	doc, err := nelspruit.Doc()
	require.NoError(t, err)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"Point"`)
	assert.Contains(t, string(b), `"coordinates":[30.9698,-25.4753]`)
}

func forecastHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/v1/forecast", r.URL.Path)
		assert.Equal(t, "1", q.Get("forecast_days"))
		assert.Equal(t, "Africa/Johannesburg", q.Get("timezone"))
		assert.Equal(t, strings.Join(HourlyVariables, ","), q.Get("hourly"))

		times := make([]string, 24)
		temps := make([]any, 24)
		for i := range times {
			times[i] = fmt.Sprintf("2024-03-15T%02d:00", i)
			temps[i] = float64(10 + i)
		}
		temps[14] = 24.5
		json.NewEncoder(w).Encode(map[string]any{
			"timezone": "Africa/Johannesburg",
			"hourly":   map[string]any{"time": times, "temperature_2m": temps},
		})
	}
}

func TestHourlyCollect(t *testing.T) {
	srv := httptest.NewServer(forecastHandler(t))
	defer srv.Close()

	bucket := objstore.NewMemoryBucket("weather")
	c := NewHourlyCollector(newTestClient(srv.URL), bucket, 0)
	// 14:20 in Johannesburg.
	c.now = func() time.Time { return time.Date(2024, 3, 15, 12, 20, 0, 0, time.UTC) }

	res := c.Collect(context.Background())
	require.Empty(t, res.Error)
	assert.True(t, res.Success)
	assert.True(t, res.DataCollected)
	assert.Equal(t, "2024-03-15T14:00:00+02:00", res.WeatherTimestamp)
	assert.Equal(t, "current/year=2024/month=03/day=15/hour=14/weather_data.json", res.Key)

	body, err := bucket.Get(context.Background(), res.Key)
	require.NoError(t, err)
	var obs Observation
	require.NoError(t, json.Unmarshal(body, &obs))
	assert.Equal(t, 14, obs.Hour)
	assert.Equal(t, "2024-03-15", obs.Date)
	assert.InDelta(t, 24.5, obs.Weather["temperature_2m"], 0)
	assert.NotContains(t, obs.Weather, "visibility")
	assert.Equal(t, "open_meteo_current", obs.Metadata.DataSource)
}

func TestStartOfHour_FractionalOffsets(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 20, 0, 0, time.UTC)
	for _, tc := range []struct {
		zone     *time.Location
		wantHour int
	}{
		{time.FixedZone("IST", 5*3600+30*60), 17},
		{time.FixedZone("NPT", 5*3600+45*60), 18},
		{time.FixedZone("NST", -(3*3600 + 30*60)), 8},
		{time.FixedZone("SAST", 2*3600), 14},
	} {
		t.Run(tc.zone.String(), func(t *testing.T) {
			got := startOfHour(at.In(tc.zone))
			assert.Equal(t, tc.wantHour, got.Hour())
			assert.Zero(t, got.Minute())
			assert.Zero(t, got.Second())
			assert.Equal(t, tc.zone, got.Location())
		})
	}
}

func TestHourlyCollect_HourMissing(t *testing.T) {
	srv := httptest.NewServer(forecastHandler(t))
	defer srv.Close()

	bucket := objstore.NewMemoryBucket("weather")
	c := NewHourlyCollector(newTestClient(srv.URL), bucket, 0)
	c.now = func() time.Time { return time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC) }

	res := c.Collect(context.Background())
	assert.False(t, res.Success)
	assert.False(t, res.DataCollected)
	assert.Empty(t, res.Error)
	assert.Empty(t, bucket.Keys())
}

func TestHourlyCollect_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHourlyCollector(newTestClient(srv.URL), objstore.NewMemoryBucket("weather"), 0)
	res := c.Collect(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "http 400")
}

func TestMonthsBack(t *testing.T) {
	now := time.Date(2024, 3, 31, 10, 0, 0, 0, time.UTC)
	months := MonthsBack(now, 3)

	require.Len(t, months, 37)
	assert.Equal(t, "2021-03", months[0].String())
	assert.Equal(t, "2021-04", months[1].String())
	assert.Equal(t, "2024-03", months[36].String())
}

func TestMonthRange(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	start, end, future := Month{2024, time.February}.Range(now, time.UTC)
	assert.False(t, future)
	assert.Equal(t, "2024-02-01", start.Format(time.DateOnly))
	assert.Equal(t, "2024-02-29", end.Format(time.DateOnly))

	_, end, _ = Month{2024, time.March}.Range(now, time.UTC)
	assert.Equal(t, "2024-03-15", end.Format(time.DateOnly))

	_, _, future = Month{2024, time.April}.Range(now, time.UTC)
	assert.True(t, future)
}

func TestHistoricalCollect(t *testing.T) {
	var mu sync.Mutex
	ranges := map[string]string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, strings.Join(DailyVariables, ","), q.Get("daily"))
		start, end := q.Get("start_date"), q.Get("end_date")
		mu.Lock()
		ranges[start] = end
		mu.Unlock()

		if start == "2023-07-01" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"daily": map[string]any{
				"time":               []string{start, end},
				"temperature_2m_max": []any{25.1, nil},
			},
		})
	}))
	defer srv.Close()

	bucket := objstore.NewMemoryBucket("weather")
	c := NewHistoricalCollector(newTestClient(srv.URL), bucket, 4)
	c.now = func() time.Time { return time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC) }

	res, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 13, res.TotalMonths)
	assert.Len(t, res.SuccessMonths, 12)
	assert.Equal(t, []string{"2023-07"}, res.FailedMonths)
	assert.Equal(t, "2023-03", res.SuccessMonths[0])

	assert.Equal(t, "2024-03-15", ranges["2024-03-01"])
	assert.Equal(t, "2023-03-31", ranges["2023-03-01"])

	body, err := bucket.Get(context.Background(), "historical/year=2024/month=02/weather_data.json")
	require.NoError(t, err)
	var recs []DailyRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, 2, recs[0].Month)
	assert.InDelta(t, 25.1, recs[0].Weather["temperature_2m_max"], 0)
	assert.Nil(t, recs[1].Weather["temperature_2m_max"])
	_, err = bucket.Get(context.Background(), "historical/year=2023/month=07/weather_data.json")
	assert.ErrorIs(t, err, objstore.ErrNotFound)
}
