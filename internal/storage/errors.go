package storage

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// LoadError reports a failed year load. The transaction was rolled back and
// nothing from the batch is visible.
type LoadError struct {
	Year       int
	Code       string // SQLSTATE, empty for non-Postgres failures
	Constraint string
	Err        error
}

func (e *LoadError) Error() string {
	switch {
	case e.Constraint != "":
		return fmt.Sprintf("load year %d: constraint %s violated (%s): %v", e.Year, e.Constraint, e.Code, e.Err)
	case e.Code != "":
		return fmt.Sprintf("load year %d: %s: %v", e.Year, e.Code, e.Err)
	default:
		return fmt.Sprintf("load year %d: %v", e.Year, e.Err)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// newLoadError classifies err into a LoadError.
func newLoadError(year int, err error) *LoadError {
	le := &LoadError{Year: year, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		le.Code = pgErr.Code
		le.Constraint = pgErr.ConstraintName
	}
	return le
}

// IsForeignKeyViolation reports whether err is a Postgres FK violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
