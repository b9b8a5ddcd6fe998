package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/oakvale/lakehouse-jobs/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// HostRates overrides DefaultHostRates; hosts not listed get 20 req/s.
	HostRates map[string]rate.Limit
	// Backoff overrides the retry delays; zero values use resilience defaults.
	Backoff resilience.Policy
}

// DefaultHostRates returns the starting request rates for the APIs the jobs call.
func DefaultHostRates() map[string]rate.Limit {
	return map[string]rate.Limit{
		// Adzuna's free tier allows 25 hits per minute.
		"api.adzuna.com":             rate.Limit(25.0 / 60.0),
		"api.open-meteo.com":         10,
		"archive-api.open-meteo.com": 5,
	}
}

// HTTPFetcher implements Fetcher over net/http with per-host adaptive rate
// limiting and bounded retries on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	rates    map[string]rate.Limit
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "lakehouse-jobs/1.0"
	}
	rates := opts.HostRates
	if rates == nil {
		rates = DefaultHostRates()
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		opts:     opts,
		limiters: make(map[string]*AdaptiveLimiter),
		rates:    rates,
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *AdaptiveLimiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	r, ok := f.rates[host]
	if !ok {
		r = 20
	}
	lim := NewAdaptiveLimiter(r, max(1, int(r)))
	f.limiters[host] = lim
	return lim
}

// Download fetches rawURL and returns the body of a 200 response.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	lim := f.limiterFor(rawURL)

	retry := f.opts.Backoff
	retry.Attempts = f.opts.MaxRetries
	retry.OnRetry = func(attempt int, wait time.Duration, err error) {
		zap.L().Warn("http request failed, retrying",
			zap.String("url", redact(rawURL)),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	return resilience.RetryValue(ctx, retry, func(ctx context.Context) (io.ReadCloser, error) {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fetcher: create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "fetcher: do request"), 0)
		}

		if resp.StatusCode == http.StatusOK {
			lim.OnSuccess()
			return resp.Body, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		statusErr := &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit(retryAfter(resp.Header))
		}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	})
}
