package storage

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Year loads that lose a serialization or deadlock race are replayed from
// scratch. Any other error ends the load.
const (
	loadAttempts  = 4
	loadRetryBase = 50 * time.Millisecond
)

// isLoadConflict reports whether err is a transient conflict between
// concurrent transactions (40001 serialization_failure, 40P01
// deadlock_detected).
func isLoadConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// retryLoad runs a year's load transaction up to attempts times, waiting a
// jittered, doubling delay from base between conflicting attempts.
func retryLoad(ctx context.Context, logger *slog.Logger, year, attempts int, base time.Duration, load func() error) error {
	var err error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = load(); err == nil || !isLoadConflict(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		logger.Warn("storage: year load conflicted, retrying", "year", year, "attempt", attempt, "error", err)
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter only
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
