package watermark

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultLookback is the window used when no watermark exists.
const DefaultLookback = 7 * 24 * time.Hour

// Tracker reads and advances one watermark record.
type Tracker struct {
	store    Store
	id       string
	lookback time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewTracker creates a Tracker for id. A zero lookback uses DefaultLookback.
func NewTracker(store Store, id string, lookback time.Duration) *Tracker {
	if id == "" {
		id = DefaultStateID
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Tracker{
		store:    store,
		id:       id,
		lookback: lookback,
		now:      func() time.Time { return time.Now().UTC() },
		log:      zap.L().With(zap.String("component", "watermark"), zap.String("state_id", id)),
	}
}

// ID returns the tracked record id.
func (t *Tracker) ID() string { return t.id }

// ReadState returns the stored watermark. When the record is missing or the
// backend fails, it returns a version-0 default that starts lookback ago.
func (t *Tracker) ReadState(ctx context.Context) State {
	st, err := t.store.Load(ctx, t.id)
	if err == nil {
		return *st
	}
	if errors.Is(err, ErrNotFound) {
		t.log.Info("no watermark found, using default lookback", zap.Duration("lookback", t.lookback))
	} else {
		t.log.Warn("watermark read failed, using default lookback", zap.Error(err))
	}
	return t.defaultState()
}

func (t *Tracker) defaultState() State {
	now := t.now()
	return State{
		ID:                 t.id,
		LastExtractionTime: now.Add(-t.lookback),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// UpdateState merges fields into the current record and commits it as
// expectedVersion+1. It reports false, without retrying, when another writer
// advanced the record first or the write fails. An existing record that cannot
// be re-read is left untouched.
func (t *Tracker) UpdateState(ctx context.Context, expectedVersion int64, fields Update) bool {
	var current State
	st, err := t.store.Load(ctx, t.id)
	switch {
	case err == nil:
		current = *st
	case expectedVersion == 0:
		current = t.defaultState()
	default:
		t.log.Error("watermark re-read failed, skipping update",
			zap.Int64("expected_version", expectedVersion),
			zap.Error(err),
		)
		return false
	}
	now := t.now()

	next := fields.Apply(current)
	next.ID = t.id
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	if expectedVersion == 0 {
		next.CreatedAt = now
	}

	err = t.store.CompareAndSwap(ctx, expectedVersion, next)
	switch {
	case err == nil:
		t.log.Info("watermark updated",
			zap.Int64("version", next.Version),
			zap.Time("last_extraction_time", next.LastExtractionTime),
			zap.Int64("total_records_extracted", next.TotalRecordsExtracted),
		)
		return true
	case errors.Is(err, ErrVersionConflict):
		t.log.Warn("watermark version conflict, another run committed first",
			zap.Int64("expected_version", expectedVersion),
		)
	default:
		t.log.Error("watermark update failed", zap.Error(err))
	}
	return false
}
