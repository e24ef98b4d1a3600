package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCommitted  RunStatus = "committed"
	RunStatusFailed     RunStatus = "failed"
	// RunStatusSyncPending means the year's facts are committed but the
	// reference catalog has not caught up yet.
	RunStatusSyncPending RunStatus = "sync_pending"
)

// Terminal reports whether the status ends a run attempt.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCommitted || s == RunStatusFailed || s == RunStatusSyncPending
}

// RunCounts aggregates row-level outcomes of one year's transform.
type RunCounts struct {
	Read        int            `json:"read"`
	Accepted    int            `json:"accepted"`
	Rejected    int            `json:"rejected"`
	Duplicates  int            `json:"duplicates"`
	Corrections int            `json:"corrections"`
	ByField     map[string]int `json:"rejected_by_field,omitempty"`
}

// IngestionRun is the persisted bookkeeping record of one attempt to ingest
// a year. The latest run per year decides what the orchestrator does next.
type IngestionRun struct {
	ID           uuid.UUID      `json:"id"`
	YearKey      int            `json:"year_key"`
	Generation   string         `json:"generation,omitempty"`
	Status       RunStatus      `json:"status"`
	Counts       RunCounts      `json:"counts"`
	ErrorSummary string         `json:"error_summary,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
