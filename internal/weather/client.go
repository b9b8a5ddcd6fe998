// Package weather collects Open-Meteo observations for a fixed location and
// stores them in the weather bucket.
package weather

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/oakvale/lakehouse-jobs/internal/fetcher"
	"github.com/oakvale/lakehouse-jobs/internal/resilience"
)

// HourlyVariables are requested from the forecast API.
var HourlyVariables = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"dew_point_2m",
	"apparent_temperature",
	"precipitation",
	"rain",
	"wind_speed_10m",
	"wind_direction_10m",
	"wind_gusts_10m",
	"surface_pressure",
	"cloud_cover",
	"visibility",
}

// DailyVariables are requested from the archive API.
var DailyVariables = []string{
	"temperature_2m_max",
	"temperature_2m_min",
	"temperature_2m_mean",
	"relative_humidity_2m_max",
	"relative_humidity_2m_min",
	"relative_humidity_2m_mean",
	"rain_sum",
	"snowfall_sum",
	"precipitation_hours",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"wind_direction_10m_dominant",
	"shortwave_radiation_sum",
	"et0_fao_evapotranspiration",
}

// Location is the point observations are collected for.
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
	Timezone  string
}

// LocationDoc is the stored form of a Location.
type LocationDoc struct {
	Name      string            `json:"name"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Geometry  *geojson.Geometry `json:"geometry"`
}

// Doc renders l with a GeoJSON point geometry.
func (l Location) Doc() (LocationDoc, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{l.Longitude, l.Latitude}).SetSRID(4326)
	g, err := geojson.Encode(pt)
	if err != nil {
		return LocationDoc{}, eris.Wrap(err, "weather: encode location geometry")
	}
	return LocationDoc{Name: l.Name, Latitude: l.Latitude, Longitude: l.Longitude, Geometry: g}, nil
}

// Metadata tags every stored document.
type Metadata struct {
	DataSource  string    `json:"data_source"`
	APIVersion  string    `json:"api_version"`
	CollectedAt time.Time `json:"collected_at"`
}

// Series is an Open-Meteo column block: "time" plus one array per variable.
type Series map[string][]any

// Times returns the "time" column as strings.
func (s Series) Times() []string {
	raw := s["time"]
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		str, _ := v.(string)
		out = append(out, str)
	}
	return out
}

// Row returns each requested variable's value at index i. Missing variables
// are omitted; short columns yield nil.
func (s Series) Row(i int, vars []string) map[string]any {
	row := make(map[string]any, len(vars))
	for _, v := range vars {
		col, ok := s[v]
		if !ok {
			continue
		}
		if i < len(col) {
			row[v] = col[i]
		} else {
			row[v] = nil
		}
	}
	return row
}

// ForecastResponse is the subset of the forecast payload the collector reads.
type ForecastResponse struct {
	Timezone string `json:"timezone"`
	Hourly   Series `json:"hourly"`
}

// ArchiveResponse is the subset of the archive payload the collector reads.
type ArchiveResponse struct {
	Timezone string `json:"timezone"`
	Daily    Series `json:"daily"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ForecastURL string
	ArchiveURL  string
	Location    Location
	Retry       resilience.Policy
}

// Client calls the Open-Meteo forecast and archive APIs.
type Client struct {
	fetcher fetcher.Fetcher
	cfg     ClientConfig
}

// NewClient creates a Client. A zero Retry uses resilience.OpenMeteoPolicy.
func NewClient(f fetcher.Fetcher, cfg ClientConfig) *Client {
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = resilience.OpenMeteoPolicy()
	}
	return &Client{fetcher: f, cfg: cfg}
}

// Location returns the configured location.
func (c *Client) Location() Location { return c.cfg.Location }

func (c *Client) baseParams() url.Values {
	v := url.Values{}
	v.Set("latitude", fmt.Sprintf("%.4f", c.cfg.Location.Latitude))
	v.Set("longitude", fmt.Sprintf("%.4f", c.cfg.Location.Longitude))
	v.Set("timezone", c.cfg.Location.Timezone)
	return v
}

// Forecast fetches today's hourly forecast.
func (c *Client) Forecast(ctx context.Context) (*ForecastResponse, error) {
	v := c.baseParams()
	v.Set("hourly", strings.Join(HourlyVariables, ","))
	v.Set("forecast_days", "1")
	u := c.cfg.ForecastURL + "?" + v.Encode()

	retry := c.cfg.Retry
	retry.OnRetry = resilience.LogRetries("open-meteo", "forecast")
	resp, err := resilience.RetryValue(ctx, retry, func(ctx context.Context) (*ForecastResponse, error) {
		return fetcher.GetJSON[ForecastResponse](ctx, c.fetcher, u)
	})
	return resp, eris.Wrap(err, "weather: forecast")
}

// Archive fetches daily history for [start, end].
func (c *Client) Archive(ctx context.Context, start, end time.Time) (*ArchiveResponse, error) {
	v := c.baseParams()
	v.Set("start_date", start.Format(time.DateOnly))
	v.Set("end_date", end.Format(time.DateOnly))
	v.Set("daily", strings.Join(DailyVariables, ","))
	u := c.cfg.ArchiveURL + "?" + v.Encode()

	retry := c.cfg.Retry
	retry.OnRetry = resilience.LogRetries("open-meteo", "archive")
	resp, err := resilience.RetryValue(ctx, retry, func(ctx context.Context) (*ArchiveResponse, error) {
		return fetcher.GetJSON[ArchiveResponse](ctx, c.fetcher, u)
	})
	return resp, eris.Wrapf(err, "weather: archive %s..%s", start.Format(time.DateOnly), end.Format(time.DateOnly))
}
