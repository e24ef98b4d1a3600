// Package ingest runs the per-year pipeline: fetch, reconcile and transform,
// load, then catalog sync. Years run on a bounded worker pool and fail
// independently of each other.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/edustats/internal/catalog"
	"github.com/ashita-ai/edustats/internal/config"
	"github.com/ashita-ai/edustats/internal/fetch"
	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/storage"
	"github.com/ashita-ai/edustats/internal/telemetry"
	"github.com/ashita-ai/edustats/internal/transform"
)

// Store is the subset of storage.DB the orchestrator needs.
type Store interface {
	EnsureYear(ctx context.Context, year int) (model.AcademicYear, error)
	LatestRun(ctx context.Context, year int) (model.IngestionRun, bool, error)
	CreateRun(ctx context.Context, year int, metadata map[string]any) (model.IngestionRun, error)
	UpdateRun(ctx context.Context, id uuid.UUID, u storage.RunUpdate) error
	LoadYear(ctx context.Context, p storage.LoadParams) (storage.LoadResult, error)
}

// Fetcher retrieves one source file.
type Fetcher interface {
	Fetch(ctx context.Context, year int, c fetch.Category) (fetch.Payload, error)
}

// Syncer brings the reference catalog up to date with a loaded year.
type Syncer interface {
	Sync(ctx context.Context, year int, dir model.Directory) (catalog.SyncResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	Workers   int
	LastYears int
	Policy    string
	// Now supplies the clock for the default year window.
	Now func() time.Time
}

// OptionsFromConfig maps the pipeline settings.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Workers:   cfg.Workers,
		LastYears: cfg.LastYears,
		Policy:    cfg.UpsertPolicy,
	}
}

// Orchestrator drives ingestion across years.
type Orchestrator struct {
	store   Store
	fetcher Fetcher
	engine  *transform.Engine
	syncer  Syncer
	opts    Options
	logger  *slog.Logger

	tracer    trace.Tracer
	rows      metric.Int64Counter
	stageTime metric.Float64Histogram
}

// New creates an Orchestrator.
func New(store Store, fetcher Fetcher, engine *transform.Engine, syncer Syncer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LastYears < 1 {
		opts.LastYears = 5
	}
	if opts.Policy == "" {
		opts.Policy = config.PolicyReplace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	meter := telemetry.Meter("edustats/ingest")
	rows, _ := meter.Int64Counter("edustats.ingest.rows",
		metric.WithDescription("Source rows processed, by outcome"))
	stageTime, _ := meter.Float64Histogram("edustats.ingest.stage.duration",
		metric.WithDescription("Duration of one pipeline stage for one year"),
		metric.WithUnit("ms"))

	return &Orchestrator{
		store:     store,
		fetcher:   fetcher,
		engine:    engine,
		syncer:    syncer,
		opts:      opts,
		logger:    logger,
		tracer:    telemetry.Tracer("edustats/ingest"),
		rows:      rows,
		stageTime: stageTime,
	}
}

// RunRequest selects the years to ingest. Empty Years means the default
// window: the last LastYears years ending with the previous calendar year.
type RunRequest struct {
	Years []int
	Force bool
}

// Years resolves the request to a sorted, de-duplicated list.
func (o *Orchestrator) Years(req RunRequest) []int {
	years := req.Years
	if len(years) == 0 {
		years = model.YearWindow(o.opts.Now().Year()-1, o.opts.LastYears)
	}
	out := slices.Clone(years)
	slices.Sort(out)
	return slices.Compact(out)
}

// Run ingests every requested year and reports per-year outcomes. A failed
// year never stops the others; the returned error is non-nil only when the
// run could not be attempted at all. After ctx is cancelled no new year
// starts and the unstarted ones are reported as cancelled.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Report, error) {
	years := o.Years(req)
	if len(years) == 0 {
		return nil, fmt.Errorf("ingest: no years requested")
	}

	report := &Report{StartedAt: time.Now().UTC(), Years: make([]YearResult, len(years))}
	o.logger.Info("ingest: run started", "years", years, "workers", o.opts.Workers, "force", req.Force)

	var g errgroup.Group
	g.SetLimit(o.opts.Workers)
	for i, year := range years {
		if ctx.Err() != nil {
			report.Years[i] = YearResult{Year: year, Status: StatusCancelled, Error: ctx.Err().Error()}
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				report.Years[i] = YearResult{Year: year, Status: StatusCancelled, Error: ctx.Err().Error()}
				return nil
			}
			report.Years[i] = o.runYear(ctx, year, req.Force)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()
	o.logger.Info("ingest: run finished",
		"committed", report.Count(StatusCommitted),
		"skipped", report.Count(StatusSkipped),
		"sync_pending", report.Count(StatusSyncPending),
		"failed", report.Count(StatusFailed),
		"cancelled", report.Count(StatusCancelled),
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds())
	return report, nil
}

// stage times fn and records it on the stage histogram.
func (o *Orchestrator) stage(ctx context.Context, year int, name Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	o.stageTime.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(
			attribute.String("stage", string(name)),
			attribute.Int("year", year),
			attribute.Bool("ok", err == nil),
		))
	return err
}
