// Package resilience provides bounded retry and circuit breaking for calls to
// external services.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy describes how a failing call is retried: up to Attempts tries, with
// waits growing by Factor from Base and capped at Cap.
type Policy struct {
	Attempts int // includes the first try; 1 disables retries
	Base     time.Duration
	Cap      time.Duration
	Factor   float64
	// Jitter spreads each wait by +/- that fraction of it.
	Jitter float64

	// Retryable decides whether an error earns another attempt. IsTransient
	// when nil.
	Retryable func(err error) bool
	// OnRetry observes each failed attempt before the wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// APIPolicy is the policy for JSON API calls: 3 attempts from 500ms.
func APIPolicy() Policy {
	return Policy{Attempts: 3, Base: 500 * time.Millisecond, Cap: 30 * time.Second, Factor: 2, Jitter: 0.25}
}

// OpenMeteoPolicy retries any failure 3 times with waits clamped to 4s..10s.
func OpenMeteoPolicy() Policy {
	return Policy{
		Attempts:  3,
		Base:      4 * time.Second,
		Cap:       10 * time.Second,
		Factor:    2,
		Retryable: func(err error) bool { return err != nil },
	}
}

// BucketPolicy waits out an object store that is still starting.
func BucketPolicy() Policy {
	p := APIPolicy()
	p.Attempts = 5
	p.Retryable = func(err error) bool { return err != nil }
	return p
}

func (p Policy) normalized() Policy {
	def := APIPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap <= 0 {
		p.Cap = def.Cap
	}
	if p.Factor <= 0 {
		p.Factor = def.Factor
	}
	p.Jitter = max(p.Jitter, 0)
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Delay returns the wait after the given zero-based attempt fails.
func (p Policy) Delay(attempt int) time.Duration {
	d := min(float64(p.Base)*math.Pow(p.Factor, float64(attempt)), float64(p.Cap))
	if p.Jitter > 0 {
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(max(d, 0))
}

// Retry calls fn under p and returns its last error.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue calls fn under p until it succeeds, fails permanently, runs out
// of attempts, or ctx ends.
func RetryValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var (
		val T
		err error
	)
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if val, err = fn(ctx); err == nil {
			return val, nil
		}
		last := attempt == p.Attempts-1
		if last || ctx.Err() != nil || !p.Retryable(err) {
			break
		}

		wait := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}
		if !sleep(ctx, wait) {
			break
		}
	}
	var zero T
	return zero, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// LogRetries returns an OnRetry hook that logs each retry as a warning.
func LogRetries(service, operation string) func(int, time.Duration, error) {
	log := zap.L().With(zap.String("service", service), zap.String("operation", operation))
	return func(attempt int, wait time.Duration, err error) {
		log.Warn("retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
