package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_EmptySpecDisables(t *testing.T) {
	r := New(context.Background(), nil)
	added, err := r.Add("weather.historical", "", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, r.Statuses())
}

func TestAdd_InvalidSpec(t *testing.T) {
	r := New(context.Background(), nil)
	_, err := r.Add("jobs.extract", "every tuesday", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs.extract")
}

func TestAdd_Duplicate(t *testing.T) {
	r := New(context.Background(), nil)
	_, err := r.Add("jobs.extract", "@hourly", func(context.Context) error { return nil })
	require.NoError(t, err)
	_, err = r.Add("jobs.extract", "@daily", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestRunNow_RecordsStatus(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "base")
	r := New(base, time.UTC)

	var calls atomic.Int32
	fail := errors.New("upstream down")
	_, err := r.Add("weather.hourly", "0 * * * *", func(ctx context.Context) error {
		assert.Equal(t, "base", ctx.Value(ctxKey{}))
		if calls.Add(1) == 2 {
			return fail
		}
		return nil
	})
	require.NoError(t, err)
	_, err = r.Add("jobs.extract", "@every 6h", func(context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, r.RunNow("weather.hourly"))
	require.NoError(t, r.RunNow("weather.hourly"))

	st := r.Statuses()
	require.Len(t, st, 2)
	assert.Equal(t, "weather.hourly", st[0].Name)
	assert.Equal(t, 2, st[0].Runs)
	assert.Equal(t, 1, st[0].Failures)
	assert.Equal(t, "upstream down", st[0].LastErr)
	assert.False(t, st[0].LastRun.IsZero())
	assert.Equal(t, "jobs.extract", st[1].Name)
	assert.Zero(t, st[1].Runs)

	assert.Error(t, r.RunNow("missing"))
}

func TestRunNow_RecoversPanic(t *testing.T) {
	r := New(context.Background(), nil)
	_, err := r.Add("boom", "@daily", func(context.Context) error { panic("kaboom") })
	require.NoError(t, err)
	assert.NotPanics(t, func() { _ = r.RunNow("boom") })
}

func TestStartStop_Dispatches(t *testing.T) {
	r := New(context.Background(), nil)
	done := make(chan struct{}, 1)
	_, err := r.Add("tick", "@every 1s", func(context.Context) error {
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	st := r.Statuses()
	require.Len(t, st, 1)
	assert.False(t, st[0].Next.IsZero())

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job was not dispatched")
	}
}
