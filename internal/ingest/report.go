package ingest

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/edustats/internal/catalog"
	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/storage"
	"github.com/ashita-ai/edustats/internal/transform"
)

// Status is the outcome of one year within a run.
type Status string

const (
	StatusCommitted   Status = "committed"
	StatusSkipped     Status = "skipped"
	StatusSyncPending Status = "sync_pending"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Stage names a pipeline step. A failed year records the stage it failed in.
type Stage string

const (
	StagePlan      Stage = "plan"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
	StageSync      Stage = "sync"
)

// YearResult reports what happened to one year.
type YearResult struct {
	Year       int                             `json:"year"`
	Status     Status                          `json:"status"`
	RunID      uuid.UUID                       `json:"run_id,omitempty"`
	Generation string                          `json:"generation,omitempty"`
	Counts     model.RunCounts                 `json:"counts"`
	Load       storage.LoadResult              `json:"load"`
	Sync       catalog.SyncResult              `json:"sync"`
	Sample     []*transform.RowValidationError `json:"rejection_sample,omitempty"`
	Missing    []string                        `json:"missing_optional,omitempty"`
	FailedAt   Stage                           `json:"failed_stage,omitempty"`
	Error      string                          `json:"error,omitempty"`
	Duration   time.Duration                   `json:"duration_ns"`
}

// Report aggregates the outcome of one Run.
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Years      []YearResult `json:"years"`
}

// Count returns how many years ended with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, y := range r.Years {
		if y.Status == s {
			n++
		}
	}
	return n
}

// OK reports whether every year is committed or skipped.
func (r *Report) OK() bool {
	for _, y := range r.Years {
		if y.Status != StatusCommitted && y.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// Year returns the result for year, if present.
func (r *Report) Year(year int) (YearResult, bool) {
	for _, y := range r.Years {
		if y.Year == year {
			return y, true
		}
	}
	return YearResult{}, false
}
