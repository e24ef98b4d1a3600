package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/edustats/internal/model"
)

// EnsureYear creates the academic year if it does not exist. An existing
// row, including a corrected label, is left untouched.
func (db *DB) EnsureYear(ctx context.Context, year int) (model.AcademicYear, error) {
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO dim_year (year_key, label) VALUES ($1, $2) ON CONFLICT (year_key) DO NOTHING`,
		year, model.YearLabel(year),
	); err != nil {
		return model.AcademicYear{}, fmt.Errorf("storage: ensure year %d: %w", year, err)
	}
	return db.GetYear(ctx, year)
}

// GetYear returns one academic year.
func (db *DB) GetYear(ctx context.Context, year int) (model.AcademicYear, error) {
	var y model.AcademicYear
	err := db.pool.QueryRow(ctx,
		`SELECT year_key, label, created_at FROM dim_year WHERE year_key = $1`, year,
	).Scan(&y.Key, &y.Label, &y.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AcademicYear{}, fmt.Errorf("storage: year %d: %w", year, ErrNotFound)
		}
		return model.AcademicYear{}, fmt.Errorf("storage: get year %d: %w", year, err)
	}
	return y, nil
}

// UpdateYearLabel corrects the display label. It is the only mutation an
// academic year allows.
func (db *DB) UpdateYearLabel(ctx context.Context, year int, label string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE dim_year SET label = $2, updated_at = now() WHERE year_key = $1`, year, label)
	if err != nil {
		return fmt.Errorf("storage: update year label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: year %d: %w", year, ErrNotFound)
	}
	return nil
}

// ListYears returns all academic years, oldest first.
func (db *DB) ListYears(ctx context.Context) ([]model.AcademicYear, error) {
	rows, err := db.pool.Query(ctx, `SELECT year_key, label, created_at FROM dim_year ORDER BY year_key`)
	if err != nil {
		return nil, fmt.Errorf("storage: list years: %w", err)
	}
	defer rows.Close()

	var years []model.AcademicYear
	for rows.Next() {
		var y model.AcademicYear
		if err := rows.Scan(&y.Key, &y.Label, &y.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan year: %w", err)
		}
		years = append(years, y)
	}
	return years, rows.Err()
}
