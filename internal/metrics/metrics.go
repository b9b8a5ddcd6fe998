// Package metrics holds the Prometheus collectors shared by every job. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

const namespace = "lakejobs"

// Collectors label their series "task"; the Pushgateway reserves "job" for
// the grouping key and rejects pushes that carry it.

// Metrics is a registry plus the collectors the jobs update.
type Metrics struct {
	Registry *prometheus.Registry

	recordsFetched   *prometheus.CounterVec
	recordsPersisted *prometheus.CounterVec
	pagesFetched     *prometheus.CounterVec
	batches          *prometheus.CounterVec
	batchSize        *prometheus.HistogramVec
	watermarkUpdates *prometheus.CounterVec
	watermarkTime    prometheus.Gauge
	storageOps       *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobRuns          *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		recordsFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_fetched_total",
			Help:      "Raw records returned by upstream APIs.",
		}, []string{"task"}),
		recordsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Records written to the lake.",
		}, []string{"task"}),
		pagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Upstream result pages requested, by outcome.",
		}, []string{"task", "outcome"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches handed to the writer, by outcome.",
		}, []string{"task", "outcome"}),
		batchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Records per emitted batch.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"task"}),
		watermarkUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watermark_updates_total",
			Help:      "Watermark compare-and-swap attempts, by outcome.",
		}, []string{"outcome"}),
		watermarkTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix time of the last committed extraction watermark.",
		}),
		storageOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Object store and catalog operations, by outcome.",
		}, []string{"op", "outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of job runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"task", "status"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Job runs, by final status.",
		}, []string{"task", "status"}),
	}
}

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeConflict = "conflict"
)

// RecordsFetched adds n raw upstream records for job.
func (m *Metrics) RecordsFetched(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsFetched.WithLabelValues(job).Add(float64(n))
}

// RecordsPersisted adds n written records for job.
func (m *Metrics) RecordsPersisted(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsPersisted.WithLabelValues(job).Add(float64(n))
}

// PageFetched counts one upstream page request.
func (m *Metrics) PageFetched(job string, err error) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(job, outcome(err)).Inc()
}

// Batch records one emitted batch of size n.
func (m *Metrics) Batch(job string, n int, err error) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(job, outcome(err)).Inc()
	m.batchSize.WithLabelValues(job).Observe(float64(n))
}

// WatermarkUpdate records a CAS attempt. committed is the new watermark when
// the swap succeeded.
func (m *Metrics) WatermarkUpdate(ok bool, committed time.Time) {
	if m == nil {
		return
	}
	if !ok {
		m.watermarkUpdates.WithLabelValues(OutcomeConflict).Inc()
		return
	}
	m.watermarkUpdates.WithLabelValues(OutcomeSuccess).Inc()
	m.watermarkTime.Set(float64(committed.Unix()))
}

// StorageOp counts one storage operation.
func (m *Metrics) StorageOp(op string, err error) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(op, outcome(err)).Inc()
}

// ObserveJob records a finished job run.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := outcome(err)
	m.jobDuration.WithLabelValues(job, status).Observe(time.Since(started).Seconds())
	m.jobRuns.WithLabelValues(job, status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Push sends the registry to a Pushgateway under the given job name.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if m == nil || gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, job).Gatherer(m.Registry).PushContext(ctx)
	return eris.Wrapf(err, "metrics: push to %s", gatewayURL)
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
