// Package fetcher is the outbound request layer: rate-limited HTTP GETs with
// a bounded retry budget and JSON decoding helpers.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// Fetcher downloads remote resources.
type Fetcher interface {
	// Download GETs rawURL and returns the body of a 200 response. Any other
	// final status is reported as a *StatusError.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// StatusError reports a non-200 response that survived the retry budget.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.StatusCode, redact(e.URL))
}

// redact strips credentials from query strings before they reach logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for _, k := range []string{"app_key", "api_key", "key", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
