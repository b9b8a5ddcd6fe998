// Package jobsearch pages through the Adzuna job search API.
package jobsearch

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/oakvale/lakehouse-jobs/internal/fetcher"
)

const (
	// PageSize is the fixed number of results the API returns per full page.
	PageSize = 50
	// MaxDaysOldCap is the largest recency filter the API accepts.
	MaxDaysOldCap = 30
)

// Query is the per-run search filter.
type Query struct {
	Phrase     string
	MaxDaysOld int
}

// ClientConfig addresses the API.
type ClientConfig struct {
	BaseURL string
	Country string
	AppID   string
	AppKey  string
}

// Client fetches search result pages.
type Client struct {
	fetcher fetcher.Fetcher
	cfg     ClientConfig
}

// NewClient creates a Client that issues requests through f.
func NewClient(f fetcher.Fetcher, cfg ClientConfig) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{fetcher: f, cfg: cfg}
}

type searchResponse struct {
	Count   int          `json:"count"`
	Results []RawPosting `json:"results"`
}

// PageURL builds the request URL for one page, numbered from 1.
func (c *Client) PageURL(q Query, page int) string {
	v := url.Values{}
	v.Set("app_id", c.cfg.AppID)
	v.Set("app_key", c.cfg.AppKey)
	v.Set("results_per_page", strconv.Itoa(PageSize))
	v.Set("what_phrase", q.Phrase)
	v.Set("max_days_old", strconv.Itoa(q.MaxDaysOld))
	v.Set("sort_by", "date")
	return fmt.Sprintf("%s/%s/search/%d?%s", c.cfg.BaseURL, url.PathEscape(c.cfg.Country), page, v.Encode())
}

// Page returns the raw results of one page. A non-200 response surfaces as a
// *fetcher.StatusError.
func (c *Client) Page(ctx context.Context, q Query, page int) ([]RawPosting, error) {
	resp, err := fetcher.GetJSON[searchResponse](ctx, c.fetcher, c.PageURL(q, page))
	if err != nil {
		return nil, eris.Wrapf(err, "jobsearch: page %d", page)
	}
	return resp.Results, nil
}

// MaxAgeDays converts a window start into the API's whole-day recency filter:
// the elapsed days rounded up, clamped to [1, MaxDaysOldCap].
func MaxAgeDays(now, start time.Time) int {
	days := int(math.Ceil(now.Sub(start).Hours() / 24))
	return min(max(days, 1), MaxDaysOldCap)
}
