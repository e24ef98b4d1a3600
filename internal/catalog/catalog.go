// Package catalog keeps the reference catalog in step with the fact store.
//
// After a year's facts commit, the Synchronizer derives the year's distinct
// locations, subgroups, tests and grades from the committed rows, records
// them in the Postgres mirror, and upserts into the similarity index only
// the entries the index does not already hold. Nothing is ever deleted: the
// catalog is the union of everything observed across ingested years.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/service/embedding"
)

// Store is the fact-store side of synchronization.
type Store interface {
	DistinctCatalogItems(ctx context.Context, year int, dir model.Directory) ([]model.ReferenceEntity, error)
	RecordCatalogObservations(ctx context.Context, year int, items []model.ReferenceEntity) (int, error)
}

// Index is a similarity index with upsert-if-absent semantics.
type Index interface {
	Name() string
	Existing(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	Upsert(ctx context.Context, points []model.IndexPoint) error
}

// SyncError reports an index operation that kept failing after retries. The
// year's facts stay committed; the run is left sync_pending.
type SyncError struct {
	Year     int
	Kind     model.EntityKind
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("catalog sync year %d kind %s: gave up after %d attempts: %v", e.Year, e.Kind, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SyncResult summarizes one synchronization.
type SyncResult struct {
	Observed int                      `json:"observed"`
	Mirrored int                      `json:"mirrored"`
	Indexed  int                      `json:"indexed"`
	ByKind   map[model.EntityKind]int `json:"indexed_by_kind,omitempty"`
}

// Options tunes retries and batching.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	BatchSize   int
}

// DefaultBatchSize bounds the points embedded and upserted per call.
const DefaultBatchSize = 128

// Synchronizer diffs a year's catalog items against the index.
type Synchronizer struct {
	store    Store
	index    Index
	embedder embedding.Provider
	opts     Options
	logger   *slog.Logger
}

// NewSynchronizer creates a Synchronizer. Zero options take defaults.
func NewSynchronizer(store Store, index Index, embedder embedding.Provider, opts Options, logger *slog.Logger) *Synchronizer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Synchronizer{store: store, index: index, embedder: embedder, opts: opts, logger: logger}
}

// Sync brings the catalog up to date with year's committed facts. Running it
// again for a year that introduced nothing new writes nothing.
func (s *Synchronizer) Sync(ctx context.Context, year int, dir model.Directory) (SyncResult, error) {
	items, err := s.store.DistinctCatalogItems(ctx, year, dir)
	if err != nil {
		return SyncResult{}, fmt.Errorf("catalog: derive items for %d: %w", year, err)
	}
	res := SyncResult{Observed: len(items), ByKind: map[model.EntityKind]int{}}

	res.Mirrored, err = s.store.RecordCatalogObservations(ctx, year, items)
	if err != nil {
		return res, fmt.Errorf("catalog: record observations for %d: %w", year, err)
	}

	byKind := make(map[model.EntityKind][]model.ReferenceEntity)
	for _, it := range items {
		byKind[it.Kind] = append(byKind[it.Kind], it)
	}

	for _, kind := range model.EntityKinds {
		n, err := s.syncKind(ctx, year, kind, byKind[kind])
		res.Indexed += n
		if n > 0 {
			res.ByKind[kind] = n
		}
		if err != nil {
			return res, err
		}
	}

	s.logger.Info("catalog: synchronized",
		"year", year, "index", s.index.Name(),
		"observed", res.Observed, "mirrored", res.Mirrored, "indexed", res.Indexed)
	return res, nil
}

func (s *Synchronizer) syncKind(ctx context.Context, year int, kind model.EntityKind, items []model.ReferenceEntity) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.PointID()
	}

	var existing map[uuid.UUID]bool
	if err := s.retry(ctx, year, kind, func() error {
		var err error
		existing, err = s.index.Existing(ctx, ids)
		return err
	}); err != nil {
		return 0, err
	}

	var missing []model.ReferenceEntity
	for i, it := range items {
		if !existing[ids[i]] {
			missing = append(missing, it)
		}
	}
	if len(missing) == 0 {
		s.logger.Debug("catalog: kind up to date", "year", year, "kind", kind, "items", len(items))
		return 0, nil
	}

	written := 0
	for start := 0; start < len(missing); start += s.opts.BatchSize {
		batch := missing[start:min(start+s.opts.BatchSize, len(missing))]
		points, err := s.embed(ctx, year, kind, batch)
		if err != nil {
			return written, err
		}
		if err := s.retry(ctx, year, kind, func() error {
			return s.index.Upsert(ctx, points)
		}); err != nil {
			return written, err
		}
		written += len(points)
	}

	s.logger.Info("catalog: indexed new items", "year", year, "kind", kind, "new", written, "known", len(items)-len(missing))
	return written, nil
}

func (s *Synchronizer) embed(ctx context.Context, year int, kind model.EntityKind, items []model.ReferenceEntity) ([]model.IndexPoint, error) {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text()
	}

	var vecs []pgvector.Vector
	if err := s.retry(ctx, year, kind, func() error {
		v, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(v), len(texts))
		}
		vecs = v
		return nil
	}); err != nil {
		return nil, err
	}

	points := make([]model.IndexPoint, len(items))
	for i, it := range items {
		points[i] = model.IndexPoint{ID: it.PointID(), Entity: it, Vector: vecs[i]}
	}
	return points, nil
}

// retry runs fn up to MaxAttempts times with jittered exponential backoff.
// Cancellation of ctx ends the loop with the context's error.
func (s *Synchronizer) retry(ctx context.Context, year int, kind model.EntityKind, fn func() error) error {
	delay := s.opts.Backoff
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}
		if attempt == s.opts.MaxAttempts {
			break
		}
		s.logger.Warn("catalog: index operation failed, retrying",
			"year", year, "kind", kind, "attempt", attempt, "error", err)

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return &SyncError{Year: year, Kind: kind, Attempts: s.opts.MaxAttempts, Err: err}
}
