package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordsFetched("adzuna", 10)
		m.RecordsPersisted("adzuna", 10)
		m.PageFetched("adzuna", nil)
		m.Batch("adzuna", 10, nil)
		m.WatermarkUpdate(true, time.Now())
		m.StorageOp("put", nil)
		m.ObserveJob("adzuna", time.Now(), nil)
	})
	assert.NoError(t, m.Push(context.Background(), "http://localhost:9091", "x"))
}

func TestCounters(t *testing.T) {
	m := New()

	m.RecordsFetched("adzuna", 137)
	m.RecordsPersisted("adzuna", 120)
	m.PageFetched("adzuna", nil)
	m.PageFetched("adzuna", errors.New("boom"))
	m.Batch("adzuna", 1000, nil)
	m.Batch("adzuna", 200, errors.New("write failed"))
	m.WatermarkUpdate(false, time.Time{})

	assert.InDelta(t, 137, testutil.ToFloat64(m.recordsFetched.WithLabelValues("adzuna")), 0)
	assert.InDelta(t, 120, testutil.ToFloat64(m.recordsPersisted.WithLabelValues("adzuna")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pagesFetched.WithLabelValues("adzuna", OutcomeFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batches.WithLabelValues("adzuna", OutcomeSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.batches.WithLabelValues("adzuna", OutcomeFailure)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.watermarkUpdates.WithLabelValues(OutcomeConflict)), 0)
}

func TestWatermarkGauge(t *testing.T) {
	m := New()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	m.WatermarkUpdate(true, ts)
	assert.InDelta(t, float64(ts.Unix()), testutil.ToFloat64(m.watermarkTime), 0)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordsPersisted("adzuna", 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lakejobs_records_persisted_total{task="adzuna"} 5`)
}

func TestPush(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.RecordsFetched("adzuna", 1)
	m.RecordsPersisted("adzuna", 1)
	m.PageFetched("adzuna", nil)
	m.Batch("adzuna", 1, nil)
	m.StorageOp("put", nil)
	m.WatermarkUpdate(true, time.Now())
	m.ObserveJob("adzuna", time.Now(), nil)

	// Every series is pushed; none may carry the reserved job label.
	require.NoError(t, m.Push(context.Background(), srv.URL, "lakehouse_jobs"))
	assert.Equal(t, "/metrics/job/lakehouse_jobs", gotPath)

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				assert.NotEqual(t, "job", lp.GetName(), mf.GetName())
			}
		}
	}
}
