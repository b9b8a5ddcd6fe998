package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/extract"
	"github.com/oakvale/lakehouse-jobs/internal/medallion"
	"github.com/oakvale/lakehouse-jobs/internal/metrics"
	"github.com/oakvale/lakehouse-jobs/internal/runlog"
	"github.com/oakvale/lakehouse-jobs/internal/scheduler"
)

var schedulePort int

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run every job on its cron schedule",
	Long:  "Hosts the extraction, weather, and lake jobs on their configured cron specs and serves /healthz, /metrics, /jobs, and /runs.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if schedulePort > 0 {
			cfg.Schedule.Port = schedulePort
		}
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := scheduler.New(ctx, time.UTC)
		if err := registerJobs(runner, env); err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Schedule.Port),
			Handler:           newStatusRouter(runner, env.Runs, env.Metrics),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting status server", zap.Int("port", cfg.Schedule.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().IntVar(&schedulePort, "port", 0, "status server port (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}

// registerJobs adds every job whose spec is set. Jobs whose own settings
// are incomplete are skipped with a warning.
func registerJobs(r *scheduler.Runner, env *jobEnv) error {
	type job struct {
		name, spec, mode string
		fn               scheduler.JobFunc
	}
	jobs := []job{
		{extract.JobName, cfg.Schedule.Extract, "extract", func(ctx context.Context) error {
			_, err := runExtract(ctx, env)
			if err == nil {
				env.pushMetrics(ctx)
			}
			return err
		}},
		{jobWeatherHourly, cfg.Schedule.WeatherHourly, "weather", func(ctx context.Context) error {
			_, err := runWeatherHourly(ctx, env)
			return err
		}},
		{jobWeatherHistorical, cfg.Schedule.WeatherHistorical, "weather", func(ctx context.Context) error {
			_, err := runWeatherHistorical(ctx, env, cfg.Weather.YearsBack)
			return err
		}},
		{"lake." + medallion.StageAll, cfg.Schedule.Medallion, "medallion", func(ctx context.Context) error {
			_, err := runMedallion(ctx, env, medallion.StageAll)
			return err
		}},
	}

	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if err := cfg.Validate(j.mode); err != nil {
			zap.L().Warn("job not scheduled", zap.String("job", j.name), zap.Error(err))
			continue
		}
		if _, err := r.Add(j.name, j.spec, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// jobLister is the part of scheduler.Runner the status server reads.
type jobLister interface {
	Statuses() []scheduler.Status
}

// newStatusRouter serves health, metrics, schedule, and run history. runs
// may be nil when no catalog is configured.
func newStatusRouter(jobs jobLister, runs *runlog.Log, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/jobs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, jobs.Statuses())
	})
	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		if runs == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run log not configured"})
			return
		}
		limit := 50
		if s := req.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		entries, err := runs.ListAll(req.Context(), limit)
		if err != nil {
			zap.L().Error("list runs failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list runs failed"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
