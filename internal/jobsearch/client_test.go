package jobsearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/oakvale/lakehouse-jobs/internal/fetcher"
	"github.com/oakvale/lakehouse-jobs/internal/resilience"
)

func testFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		MaxRetries: 1,
		HostRates:  map[string]rate.Limit{},
		Backoff:    resilience.Policy{Base: time.Millisecond, Cap: time.Millisecond},
	})
}

func TestPageURL(t *testing.T) {
	c := NewClient(nil, ClientConfig{
		BaseURL: "https://api.adzuna.com/v1/api/jobs/",
		Country: "ca",
		AppID:   "id",
		AppKey:  "key",
	})

	raw := c.PageURL(Query{Phrase: "data engineer", MaxDaysOld: 8}, 3)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "/v1/api/jobs/ca/search/3", u.Path)
	q := u.Query()
	assert.Equal(t, "id", q.Get("app_id"))
	assert.Equal(t, "key", q.Get("app_key"))
	assert.Equal(t, "50", q.Get("results_per_page"))
	assert.Equal(t, "data engineer", q.Get("what_phrase"))
	assert.Equal(t, "8", q.Get("max_days_old"))
	assert.Equal(t, "date", q.Get("sort_by"))
}

func TestClientPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ca/search/1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 2, "results": [
			{"id": "4171392811", "title": "Data Engineer", "location": {"display_name": "Toronto, Ontario"},
			 "company": {"display_name": "Maple Analytics"}, "category": {"label": "IT Jobs"},
			 "description": "Build pipelines", "redirect_url": "https://www.adzuna.ca/land/ad/4171392811",
			 "created": "2024-03-14T09:12:45Z"},
			{"id": 4171392812, "title": "Senior Data Engineer", "created": "2024-03-14T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(testFetcher(), ClientConfig{BaseURL: srv.URL, Country: "ca", AppID: "id", AppKey: "key"})
	raw, err := c.Page(context.Background(), Query{Phrase: "data engineer", MaxDaysOld: 8}, 1)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	assert.Equal(t, ID("4171392811"), raw[0].ID)
	assert.Equal(t, "Toronto, Ontario", raw[0].Location.DisplayName)
	assert.Equal(t, ID("4171392812"), raw[1].ID)
}

func TestClientPage_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testFetcher(), ClientConfig{BaseURL: srv.URL, Country: "ca", AppID: "id", AppKey: "secret"})
	_, err := c.Page(context.Background(), Query{MaxDaysOld: 1}, 1)
	require.Error(t, err)

	var se *fetcher.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.NotContains(t, err.Error(), "secret")
}

func TestMaxAgeDays(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start time.Time
		want  int
	}{
		{"seven and a half days rounds up", now.Add(-(7*24 + 12) * time.Hour), 8},
		{"exact days", now.Add(-3 * 24 * time.Hour), 3},
		{"under a day", now.Add(-2 * time.Hour), 1},
		{"start in the future", now.Add(time.Hour), 1},
		{"capped", now.Add(-90 * 24 * time.Hour), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaxAgeDays(now, tt.start))
		})
	}
}
