package model

import (
	"time"

	"github.com/google/uuid"
)

// ScoreFilter narrows a fact query. Zero-valued fields do not filter.
type ScoreFilter struct {
	YearKey  *int     `json:"year_key,omitempty"`
	Subject  *Subject `json:"subject,omitempty"`
	Grade    *string  `json:"grade,omitempty"`
	Subgroup *string  `json:"subgroup,omitempty"`
	Entity   *string  `json:"entity,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

// StoredScore is a fact row as persisted, with its load provenance.
type StoredScore struct {
	ScoreRecord
	EntityKey      string     `json:"entity_key"`
	Generation     string     `json:"source_generation"`
	IngestionRunID *uuid.UUID `json:"ingestion_run_id,omitempty"`
	LoadedAt       time.Time  `json:"loaded_at"`
}

// PagedResult wraps paginated query results.
type PagedResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
