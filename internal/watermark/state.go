// Package watermark persists the incremental extraction high-water mark and
// guards every update with an optimistic version check.
package watermark

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultStateID names the singleton job-posting watermark.
const DefaultStateID = "adzuna_pipeline_state"

// State is the persisted watermark record.
type State struct {
	ID                    string    `json:"state_id" yaml:"state_id"`
	LastExtractionTime    time.Time `json:"last_extraction_time" yaml:"last_extraction_time"`
	TotalRecordsExtracted int64     `json:"total_records_extracted" yaml:"total_records_extracted"`
	Version               int64     `json:"version" yaml:"version"`
	CreatedAt             time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt             time.Time `json:"updated_at" yaml:"updated_at"`
}

// Update lists the fields a run wants to change. Nil fields keep the
// current value.
type Update struct {
	LastExtractionTime    *time.Time
	TotalRecordsExtracted *int64
}

// Apply returns a copy of s with u merged in.
func (u Update) Apply(s State) State {
	if u.LastExtractionTime != nil {
		s.LastExtractionTime = *u.LastExtractionTime
	}
	if u.TotalRecordsExtracted != nil {
		s.TotalRecordsExtracted = *u.TotalRecordsExtracted
	}
	return s
}

var (
	// ErrNotFound means no record exists for the id yet.
	ErrNotFound = eris.New("watermark: state not found")
	// ErrVersionConflict means another writer committed first.
	ErrVersionConflict = eris.New("watermark: version conflict")
)

// Store is a backend holding watermark records.
//
// CompareAndSwap writes next only when the stored version equals
// expectedVersion. An absent record counts as version 0, so expectedVersion 0
// creates the record and fails with ErrVersionConflict if one already exists.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next State) error
}
