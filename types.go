package edustats

import (
	"github.com/ashita-ai/edustats/internal/ingest"
	"github.com/ashita-ai/edustats/internal/model"
)

// IngestRequest selects the years to ingest. Empty Years means the last
// EDUSTATS_LAST_YEARS years ending with the previous calendar year.
// Committed years are skipped unless Force is set.
type IngestRequest struct {
	Years []int
	Force bool
}

// Public names for the records the App returns.
type (
	Report          = ingest.Report
	YearResult      = ingest.YearResult
	YearStatus      = ingest.Status
	Run             = model.IngestionRun
	RunStatus       = model.RunStatus
	AcademicYear    = model.AcademicYear
	Score           = model.StoredScore
	ScoreFilter     = model.ScoreFilter
	ReferenceEntity = model.ReferenceEntity
	EntityKind      = model.EntityKind
)

// Year outcomes within a Report.
const (
	YearCommitted   = ingest.StatusCommitted
	YearSkipped     = ingest.StatusSkipped
	YearSyncPending = ingest.StatusSyncPending
	YearFailed      = ingest.StatusFailed
	YearCancelled   = ingest.StatusCancelled
)

// Catalog kinds.
const (
	KindLocation = model.KindLocation
	KindSubgroup = model.KindSubgroup
	KindTest     = model.KindTest
	KindGrade    = model.KindGrade
)
