package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/edustats/internal/model"
)

const runColumns = `id, year_key, generation, status, rows_read, rows_accepted, rows_rejected,
	rows_duplicate, rows_corrected, rejected_by_field, error_summary, metadata,
	started_at, completed_at, updated_at`

// CreateRun inserts a new in-progress ingestion run for year and returns it.
func (db *DB) CreateRun(ctx context.Context, year int, metadata map[string]any) (model.IngestionRun, error) {
	now := time.Now().UTC()
	run := model.IngestionRun{
		ID:        uuid.New(),
		YearKey:   year,
		Status:    model.RunStatusInProgress,
		Counts:    model.RunCounts{ByField: map[string]int{}},
		Metadata:  metadata,
		StartedAt: now,
		UpdatedAt: now,
	}
	if run.Metadata == nil {
		run.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, year_key, status, metadata, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.YearKey, string(run.Status), run.Metadata, run.StartedAt, run.UpdatedAt,
	)
	if err != nil {
		return model.IngestionRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// RunUpdate carries the fields a status transition may set.
type RunUpdate struct {
	Status       model.RunStatus
	Generation   string
	Counts       *model.RunCounts
	ErrorSummary string
	Metadata     map[string]any
}

// UpdateRun moves a run to a new status. Terminal statuses stamp
// completed_at. Counts and generation are only overwritten when given;
// metadata is merged.
func (db *DB) UpdateRun(ctx context.Context, id uuid.UUID, u RunUpdate) error {
	var completedAt *time.Time
	if u.Status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	if u.Metadata == nil {
		u.Metadata = map[string]any{}
	}

	var (
		read, accepted, rejected, dups, corrections *int
		byField                                     any
	)
	if c := u.Counts; c != nil {
		read, accepted, rejected = &c.Read, &c.Accepted, &c.Rejected
		dups, corrections = &c.Duplicates, &c.Corrections
		byField = map[string]int{}
		if c.ByField != nil {
			byField = c.ByField
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE ingestion_runs SET
			status = $2,
			generation = COALESCE(NULLIF($3, ''), generation),
			rows_read = COALESCE($4, rows_read),
			rows_accepted = COALESCE($5, rows_accepted),
			rows_rejected = COALESCE($6, rows_rejected),
			rows_duplicate = COALESCE($7, rows_duplicate),
			rows_corrected = COALESCE($8, rows_corrected),
			rejected_by_field = COALESCE($9, rejected_by_field),
			error_summary = $10,
			metadata = metadata || $11,
			completed_at = COALESCE($12, completed_at),
			updated_at = now()
		 WHERE id = $1`,
		id, string(u.Status), u.Generation,
		read, accepted, rejected, dups, corrections, byField,
		u.ErrorSummary, u.Metadata, completedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.IngestionRun, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.IngestionRun{}, fmt.Errorf("storage: run %s: %w", id, ErrNotFound)
		}
		return model.IngestionRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run of a year. ok is false when the year
// has never been attempted.
func (db *DB) LatestRun(ctx context.Context, year int) (model.IngestionRun, bool, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE year_key = $1
		 ORDER BY started_at DESC, updated_at DESC LIMIT 1`, year))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.IngestionRun{}, false, nil
		}
		return model.IngestionRun{}, false, fmt.Errorf("storage: latest run: %w", err)
	}
	return run, true, nil
}

// LatestRuns returns the most recent run of every attempted year, oldest
// year first.
func (db *DB) LatestRuns(ctx context.Context) ([]model.IngestionRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (year_key) `+runColumns+` FROM ingestion_runs
		 ORDER BY year_key, started_at DESC, updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("storage: latest runs: %w", err)
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (model.IngestionRun, error) {
	var (
		run    model.IngestionRun
		status string
	)
	err := row.Scan(
		&run.ID, &run.YearKey, &run.Generation, &status,
		&run.Counts.Read, &run.Counts.Accepted, &run.Counts.Rejected,
		&run.Counts.Duplicates, &run.Counts.Corrections, &run.Counts.ByField,
		&run.ErrorSummary, &run.Metadata,
		&run.StartedAt, &run.CompletedAt, &run.UpdatedAt,
	)
	run.Status = model.RunStatus(status)
	return run, err
}
