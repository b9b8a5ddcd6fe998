// Package extract runs one incremental job-posting extraction: read the
// watermark, fetch the window in batches, persist, then advance the watermark.
package extract

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/jobsearch"
	"github.com/oakvale/lakehouse-jobs/internal/lake"
	"github.com/oakvale/lakehouse-jobs/internal/metrics"
	"github.com/oakvale/lakehouse-jobs/internal/watermark"
)

// JobName labels extraction runs in logs, metrics, and the run log.
const JobName = "jobs.extract"

// Stage names logged as a run progresses.
const (
	StageInit            = "INIT"
	StageWindowComputed  = "WINDOW_COMPUTED"
	StageFetching        = "FETCHING"
	StageFiltering       = "FILTERING"
	StagePersisting      = "PERSISTING"
	StageWatermarkUpdate = "WATERMARK_UPDATE"
	StageDone            = "DONE"
)

// Config is the subset of settings a run cannot start without.
type Config struct {
	AppID   string
	AppKey  string
	Bucket  string
	StateID string
	Overlap time.Duration
	// RunID labels the run; a random one is generated when empty.
	RunID string
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.AppID == "" {
		missing = append(missing, "app id")
	}
	if c.AppKey == "" {
		missing = append(missing, "app key")
	}
	if c.Bucket == "" {
		missing = append(missing, "output bucket")
	}
	if c.StateID == "" {
		missing = append(missing, "state id")
	}
	if c.Overlap < 0 {
		missing = append(missing, "non-negative overlap")
	}
	if len(missing) > 0 {
		return eris.Errorf("extract: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// BatchSource produces the window's postings in bounded batches.
type BatchSource interface {
	Batches(ctx context.Context, window jobsearch.Window, emit func(jobsearch.Batch) error) (jobsearch.FetchStats, error)
}

// BatchWriter persists one batch.
type BatchWriter interface {
	WriteBatch(ctx context.Context, postings []jobsearch.Posting) (lake.WriteResult, error)
}

// Report is the outcome of a run. It is returned whether or not the
// watermark advanced.
type Report struct {
	RunID             string        `json:"run_id"`
	WindowStart       time.Time     `json:"window_start"`
	WindowEnd         time.Time     `json:"window_end"`
	RecordsFetched    int           `json:"records_fetched"`
	RecordsPersisted  int64         `json:"records_persisted"`
	Batches           int           `json:"batches"`
	FailedBatches     int           `json:"failed_batches"`
	FilesWritten      int           `json:"files_written"`
	WatermarkAdvanced bool          `json:"watermark_advanced"`
	StopReason        string        `json:"stop_reason"`
	Duration          time.Duration `json:"duration"`
}

// Coordinator wires the watermark, the batch source, and the writer.
type Coordinator struct {
	cfg     Config
	tracker *watermark.Tracker
	source  BatchSource
	writer  BatchWriter
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Coordinator. m may be nil.
func New(cfg Config, tracker *watermark.Tracker, source BatchSource, writer BatchWriter, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		tracker: tracker,
		source:  source,
		writer:  writer,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one extraction. The only error path is invalid configuration
// or a cancelled context; upstream, persistence, and watermark failures are
// logged and folded into the Report.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	runID := c.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &Report{RunID: runID}
	log := zap.L().With(zap.String("component", "extract"), zap.String("run_id", report.RunID))

	log.Info("run starting", zap.String("stage", StageInit))
	if err := c.cfg.Validate(); err != nil {
		c.metrics.ObserveJob(JobName, started, err)
		return nil, err
	}

	state := c.tracker.ReadState(ctx)
	window := ComputeWindow(state, c.cfg.Overlap, c.now())
	report.WindowStart, report.WindowEnd = window.Start, window.End
	log.Info("window computed",
		zap.String("stage", StageWindowComputed),
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
		zap.Int64("state_version", state.Version),
	)

	log.Info("fetching", zap.String("stage", StageFetching))
	stats, err := c.source.Batches(ctx, window, func(b jobsearch.Batch) error {
		c.handleBatch(ctx, log, window, b, report)
		return nil
	})
	report.RecordsFetched = stats.Records
	report.StopReason = stats.StopReason
	if err != nil {
		report.Duration = time.Since(started)
		c.metrics.ObserveJob(JobName, started, err)
		return report, eris.Wrap(err, "extract: fetch")
	}

	log.Info("updating watermark", zap.String("stage", StageWatermarkUpdate))
	end := window.End
	total := state.TotalRecordsExtracted + report.RecordsPersisted
	report.WatermarkAdvanced = c.tracker.UpdateState(ctx, state.Version, watermark.Update{
		LastExtractionTime:    &end,
		TotalRecordsExtracted: &total,
	})
	c.metrics.WatermarkUpdate(report.WatermarkAdvanced, end)

	report.Duration = time.Since(started)
	c.metrics.ObserveJob(JobName, started, nil)
	log.Info("run finished",
		zap.String("stage", StageDone),
		zap.Int64("records_persisted", report.RecordsPersisted),
		zap.Int("batches", report.Batches),
		zap.Int("failed_batches", report.FailedBatches),
		zap.Bool("watermark_advanced", report.WatermarkAdvanced),
		zap.Duration("elapsed", report.Duration),
	)
	return report, nil
}

func (c *Coordinator) handleBatch(ctx context.Context, log *zap.Logger, window jobsearch.Window, b jobsearch.Batch, report *Report) {
	report.Batches++
	blog := log.With(zap.Int("batch", b.Seq))

	parsed := b.Postings()
	kept := FilterWindow(parsed, window)
	blog.Debug("batch filtered",
		zap.String("stage", StageFiltering),
		zap.Int("raw", len(b.Raw)),
		zap.Int("parsed", len(parsed)),
		zap.Int("in_window", len(kept)),
	)
	if len(kept) == 0 {
		c.metrics.Batch(JobName, 0, nil)
		return
	}

	res, err := c.writer.WriteBatch(ctx, kept)
	c.metrics.Batch(JobName, len(kept), err)
	if err != nil {
		report.FailedBatches++
		blog.Error("batch persist failed, continuing", zap.String("stage", StagePersisting), zap.Error(err))
		return
	}
	report.RecordsPersisted += int64(res.Records)
	report.FilesWritten += res.Files
	c.metrics.RecordsPersisted(JobName, res.Records)
	blog.Info("batch persisted",
		zap.String("stage", StagePersisting),
		zap.Int("records", res.Records),
		zap.Int("files", res.Files),
		zap.Bool("catalog_updated", res.CatalogUpdated),
	)
}
