package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/oakvale/lakehouse-jobs/internal/runlog"
	"github.com/oakvale/lakehouse-jobs/internal/weather"
)

const (
	jobWeatherHourly     = "weather.hourly"
	jobWeatherHistorical = "weather.historical"
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Open-Meteo weather collectors",
}

var weatherHourlyCmd = &cobra.Command{
	Use:   "hourly",
	Short: "Store the forecast for the current hour",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("weather"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics(ctx)

		res, err := runWeatherHourly(ctx, env)
		printJSON(res)
		return err
	},
}

var historicalYearsBack int

var weatherHistoricalCmd = &cobra.Command{
	Use:   "historical",
	Short: "Backfill monthly daily archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("weather"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics(ctx)

		years := historicalYearsBack
		if years <= 0 {
			years = cfg.Weather.YearsBack
		}
		res, err := runWeatherHistorical(ctx, env, years)
		printJSON(res)
		return err
	},
}

func init() {
	weatherHistoricalCmd.Flags().IntVar(&historicalYearsBack, "years-back", 0, "years of history to collect (default from config)")
	weatherCmd.AddCommand(weatherHourlyCmd, weatherHistoricalCmd)
	rootCmd.AddCommand(weatherCmd)
}

func weatherClient(env *jobEnv) *weather.Client {
	return weather.NewClient(env.Fetcher, weather.ClientConfig{
		ForecastURL: cfg.Weather.ForecastURL,
		ArchiveURL:  cfg.Weather.ArchiveURL,
		Location: weather.Location{
			Name:      cfg.Weather.LocationName,
			Latitude:  cfg.Weather.Latitude,
			Longitude: cfg.Weather.Longitude,
			Timezone:  cfg.Weather.Timezone,
		},
	})
}

// runWeatherHourly stores the current hour's observation. A forecast that
// does not cover the current hour is not an error.
func runWeatherHourly(ctx context.Context, env *jobEnv) (weather.HourlyResult, error) {
	var res weather.HourlyResult
	bucket, err := env.bucket(ctx, cfg.ObjectStore.WeatherBucket)
	if err != nil {
		return res, err
	}
	collector := weather.NewHourlyCollector(weatherClient(env), bucket,
		time.Duration(cfg.Weather.MaxSkewMinutes)*time.Minute)

	started := time.Now()
	err = env.Runs.Track(ctx, jobWeatherHourly, uuid.NewString(), func(ctx context.Context) (runlog.Result, error) {
		res = collector.Collect(ctx)
		if res.Error != "" {
			return runlog.Result{}, eris.New(res.Error)
		}
		out := runlog.Result{Metadata: map[string]any{
			"data_collected":    res.DataCollected,
			"weather_timestamp": res.WeatherTimestamp,
			"key":               res.Key,
		}}
		if res.Success {
			out.Records = 1
			env.Metrics.RecordsPersisted(jobWeatherHourly, 1)
		}
		return out, nil
	})
	env.Metrics.ObserveJob(jobWeatherHourly, started, err)
	return res, err
}

// runWeatherHistorical backfills yearsBack years. It fails only when every
// month failed.
func runWeatherHistorical(ctx context.Context, env *jobEnv, yearsBack int) (weather.HistoricalResult, error) {
	var res weather.HistoricalResult
	bucket, err := env.bucket(ctx, cfg.ObjectStore.WeatherBucket)
	if err != nil {
		return res, err
	}
	collector := weather.NewHistoricalCollector(weatherClient(env), bucket, cfg.Weather.Concurrency)

	started := time.Now()
	err = env.Runs.Track(ctx, jobWeatherHistorical, uuid.NewString(), func(ctx context.Context) (runlog.Result, error) {
		var err error
		res, err = collector.Collect(ctx, yearsBack)
		if err != nil {
			return runlog.Result{}, err
		}
		if res.TotalMonths > 0 && len(res.SuccessMonths) == 0 {
			return runlog.Result{}, eris.Errorf("all %d months failed", res.TotalMonths)
		}
		env.Metrics.RecordsPersisted(jobWeatherHistorical, len(res.SuccessMonths))
		return runlog.Result{
			Records: int64(len(res.SuccessMonths)),
			Metadata: map[string]any{
				"failed_months":          res.FailedMonths,
				"total_months_processed": res.TotalMonths,
			},
		}, nil
	})
	env.Metrics.ObserveJob(jobWeatherHistorical, started, err)
	return res, err
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
