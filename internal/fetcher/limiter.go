package fetcher

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter paces requests to one host. Each success raises the rate by
// a fifth up to twice the starting rate; each 429 halves it down to a quarter
// and pauses the host for any Retry-After the server sent.
type AdaptiveLimiter struct {
	limiter *rate.Limiter
	floor   rate.Limit
	ceiling rate.Limit
	now     func() time.Time

	mu          sync.Mutex
	pausedUntil time.Time
}

// NewAdaptiveLimiter creates a limiter starting at start events per second.
func NewAdaptiveLimiter(start rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(start, burst),
		floor:   start / 4,
		ceiling: start * 2,
		now:     time.Now,
	}
}

// Wait blocks until the host is unpaused and the limiter admits an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	if d := a.pauseLeft(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return a.limiter.Wait(ctx)
}

// OnSuccess speeds the limiter up.
func (a *AdaptiveLimiter) OnSuccess() { a.scale(1.2) }

// OnRateLimit slows the limiter down and pauses it for retryAfter.
func (a *AdaptiveLimiter) OnRateLimit(retryAfter time.Duration) {
	a.scale(0.5)
	if retryAfter > 0 {
		a.mu.Lock()
		a.pausedUntil = a.now().Add(retryAfter)
		a.mu.Unlock()
	}
	zap.L().Warn("rate limited by upstream",
		zap.Float64("new_rate", float64(a.Limit())),
		zap.Duration("retry_after", retryAfter),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit { return a.limiter.Limit() }

func (a *AdaptiveLimiter) pauseLeft() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pausedUntil.Sub(a.now())
}

func (a *AdaptiveLimiter) scale(factor float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.limiter.Limit() * rate.Limit(factor)
	a.limiter.SetLimit(min(max(next, a.floor), a.ceiling))
}

// retryAfter reads a Retry-After header given in seconds. HTTP-date values
// and anything over a minute are ignored.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 || secs > 60 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
