package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/oakvale/lakehouse-jobs/internal/catalog"
	"github.com/oakvale/lakehouse-jobs/internal/extract"
	"github.com/oakvale/lakehouse-jobs/internal/jobsearch"
	"github.com/oakvale/lakehouse-jobs/internal/lake"
	"github.com/oakvale/lakehouse-jobs/internal/runlog"
	"github.com/oakvale/lakehouse-jobs/internal/watermark"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Adzuna job-posting extraction",
}

var jobsExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run one incremental extraction",
	Long:  "Reads the watermark, fetches postings created since it (less the overlap), writes them to the processed zone, then advances the watermark.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("extract"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics(ctx)

		report, err := runExtract(ctx, env)
		if report != nil {
			printJSON(report)
		}
		return err
	},
}

var (
	statusFormat string
	statusLimit  int
)

var jobsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watermark and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := loadStatus(ctx, env, statusLimit)
		if err != nil {
			return err
		}
		return writeStatus(os.Stdout, statusFormat, view)
	},
}

func init() {
	jobsStatusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table, json, or yaml")
	jobsStatusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of recent runs to show")
	jobsCmd.AddCommand(jobsExtractCmd, jobsStatusCmd)
	rootCmd.AddCommand(jobsCmd)
}

// loadStatus reads the watermark and, when a catalog is configured, the most
// recent runs.
func loadStatus(ctx context.Context, env *jobEnv, limit int) (statusView, error) {
	store, release, err := env.watermarkStore(ctx)
	if err != nil {
		return statusView{}, err
	}
	defer release()

	view := statusView{}
	st, err := store.Load(ctx, cfg.Adzuna.StateID)
	switch {
	case err == nil:
		view.Watermark = st
	case eris.Is(err, watermark.ErrNotFound):
		zap.L().Info("no watermark recorded yet", zap.String("state_id", cfg.Adzuna.StateID))
	default:
		return statusView{}, eris.Wrap(err, "jobs status")
	}

	if env.Runs != nil {
		view.Runs, err = env.Runs.ListAll(ctx, limit)
		if err != nil {
			return statusView{}, eris.Wrap(err, "jobs status")
		}
	}
	return view, nil
}

// runExtract wires the extraction from configuration and records it in the
// run log.
func runExtract(ctx context.Context, env *jobEnv) (*extract.Report, error) {
	store, release, err := env.watermarkStore(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bucket, err := env.bucket(ctx, cfg.ObjectStore.Bucket)
	if err != nil {
		return nil, err
	}

	client := jobsearch.NewClient(env.Fetcher, jobsearch.ClientConfig{
		BaseURL: cfg.Adzuna.BaseURL,
		Country: cfg.Adzuna.Country,
		AppID:   cfg.Adzuna.AppID,
		AppKey:  cfg.Adzuna.AppKey,
	})
	source := &jobsearch.Paginator{
		Source:    client,
		Phrase:    cfg.Adzuna.SearchPhrase,
		BatchSize: cfg.Adzuna.BatchSize,
		Metrics:   env.Metrics,
	}

	var cat lake.Catalog
	if env.Pool != nil {
		cat = catalog.NewPostings(env.Pool, cfg.Catalog.PostingTable)
	}
	writer := lake.NewPostingWriter(bucket, cfg.Adzuna.ProcessedPrefix, cat, env.Metrics)

	tracker := watermark.NewTracker(store, cfg.Adzuna.StateID, time.Duration(cfg.Adzuna.LookbackDays)*24*time.Hour)
	runID := uuid.NewString()
	coord := extract.New(extract.Config{
		AppID:   cfg.Adzuna.AppID,
		AppKey:  cfg.Adzuna.AppKey,
		Bucket:  cfg.ObjectStore.Bucket,
		StateID: cfg.Adzuna.StateID,
		Overlap: time.Duration(cfg.Adzuna.OverlapHours) * time.Hour,
		RunID:   runID,
	}, tracker, source, writer, env.Metrics)

	var report *extract.Report
	err = env.Runs.Track(ctx, extract.JobName, runID, func(ctx context.Context) (runlog.Result, error) {
		r, err := coord.Run(ctx)
		report = r
		if r == nil {
			return runlog.Result{}, err
		}
		return runlog.Result{
			Records: r.RecordsPersisted,
			Metadata: map[string]any{
				"window_start":       r.WindowStart,
				"window_end":         r.WindowEnd,
				"records_fetched":    r.RecordsFetched,
				"failed_batches":     r.FailedBatches,
				"watermark_advanced": r.WatermarkAdvanced,
				"stop_reason":        r.StopReason,
			},
		}, err
	})
	return report, err
}

// statusView is what `jobs status` prints.
type statusView struct {
	Watermark *watermark.State `json:"watermark" yaml:"watermark"`
	Runs      []runlog.Entry   `json:"runs" yaml:"runs"`
}

func writeStatus(out io.Writer, format string, v statusView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode status")
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode status")
		}
		return eris.Wrap(enc.Close(), "encode status")
	case "table", "":
		formatWatermark(out, v.Watermark)
		_, _ = fmt.Fprintln(out)
		formatRuns(out, v.Runs)
		return nil
	default:
		return eris.Errorf("unknown format %q (want table, json, or yaml)", format)
	}
}

func formatWatermark(out io.Writer, st *watermark.State) {
	if st == nil {
		_, _ = fmt.Fprintln(out, "WATERMARK  none")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "STATE\t%s\n", st.ID)
	_, _ = fmt.Fprintf(w, "WATERMARK\t%s\n", st.LastExtractionTime.UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", st.TotalRecordsExtracted)
	_, _ = fmt.Fprintf(w, "VERSION\t%d\n", st.Version)
	_, _ = fmt.Fprintf(w, "UPDATED\t%s\n", st.UpdatedAt.UTC().Format("2006-01-02 15:04"))
	_ = w.Flush()
}

// formatRuns writes a tabular representation of run log entries to out.
func formatRuns(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tSTATUS\tSTARTED\tDURATION\tRECORDS\tERROR")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t-------\t--------\t-------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID,
			e.Job,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Records,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
