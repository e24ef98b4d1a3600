// Package edustats is the public API for embedding the edustats ingestion
// core.
//
// Consumers construct an App, run ingestion for a set of years and read the
// resulting facts, catalog and run history:
//
//	app, err := edustats.New(ctx,
//	    edustats.WithVersion(version),
//	    edustats.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	report, err := app.Ingest(ctx, edustats.IngestRequest{Years: []int{2022, 2023}})
//
// The import graph is one-way: edustats (root) imports internal/*, never the
// reverse.
package edustats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ashita-ai/edustats/internal/blob"
	"github.com/ashita-ai/edustats/internal/catalog"
	"github.com/ashita-ai/edustats/internal/config"
	"github.com/ashita-ai/edustats/internal/fetch"
	"github.com/ashita-ai/edustats/internal/ingest"
	"github.com/ashita-ai/edustats/internal/schema"
	"github.com/ashita-ai/edustats/internal/search"
	"github.com/ashita-ai/edustats/internal/service/embedding"
	"github.com/ashita-ai/edustats/internal/storage"
	"github.com/ashita-ai/edustats/internal/telemetry"
	"github.com/ashita-ai/edustats/internal/transform"
	"github.com/ashita-ai/edustats/migrations"
)

// App owns the connections and components of one edustats process.
// Construct with New and release with Close.
type App struct {
	cfg          config.Config
	db           *storage.DB
	manifest     *fetch.Manifest
	qdrantIndex  *search.QdrantIndex // nil when Qdrant is not configured
	orch         *ingest.Orchestrator
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New loads configuration, connects to Postgres, applies migrations and
// wires the pipeline. Failures here are process-fatal: the store or an
// explicitly configured index is unreachable, or configuration is invalid.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("edustats starting", "version", version, "workers", cfg.Workers, "policy", cfg.UpsertPolicy)

	app := &App{cfg: cfg, logger: logger, version: version}
	ok := false
	defer func() {
		if !ok {
			app.Close(context.WithoutCancel(ctx))
		}
	}()

	app.otelShutdown, err = telemetry.Init(ctx, telemetry.SettingsFromConfig(cfg, version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	app.db, err = storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	app.db.RegisterPoolMetrics()

	if o.skipMigrations {
		logger.Info("embedded migrations skipped by option")
	} else if err := app.db.RunMigrations(ctx, migrations.FS); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	var schemaOK bool
	if err := app.db.Pool().QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'fact_scores')`,
	).Scan(&schemaOK); err != nil {
		return nil, fmt.Errorf("schema verification: %w", err)
	}
	if !schemaOK {
		return nil, errors.New("table fact_scores does not exist after migration; check that the vector extension is available")
	}

	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &providerAdapter{p: o.embeddingProvider}
	} else {
		embedder = embedding.NewFromConfig(ctx, cfg, logger)
	}

	var index catalog.Index
	if cfg.QdrantURL != "" {
		app.qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(embedder.Dimensions()), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := app.qdrantIndex.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		index = app.qdrantIndex
		logger.Info("catalog index: qdrant", "collection", cfg.QdrantCollection)
	} else {
		index = storage.NewCatalogIndex(app.db)
		logger.Info("catalog index: pgvector (no QDRANT_URL)")
	}

	cache, err := blob.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("raw file cache: %w", err)
	}
	app.manifest, err = fetch.OpenManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	fopts := fetch.OptionsFromConfig(cfg)
	fopts.HTTPClient = o.httpClient
	fetcher := fetch.New(fopts, cache, app.manifest, logger)

	registry, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("layout registry: %w", err)
	}
	engine := transform.NewEngine(registry, cfg.MaxRejectRate, logger)

	syncer := catalog.NewSynchronizer(app.db, index, embedder, catalog.Options{
		MaxAttempts: cfg.SyncMaxAttempts,
		Backoff:     cfg.SyncBackoff,
	}, logger)

	app.orch = ingest.New(app.db, fetcher, engine, syncer, ingest.OptionsFromConfig(cfg), logger)

	ok = true
	return app, nil
}

// Ingest runs the pipeline for the requested years. A non-nil error means
// the run could not be attempted; per-year failures are in the report.
func (a *App) Ingest(ctx context.Context, req IngestRequest) (*Report, error) {
	return a.orch.Run(ctx, ingest.RunRequest{Years: req.Years, Force: req.Force})
}

// Status returns the latest run of every year ever attempted, oldest year
// first.
func (a *App) Status(ctx context.Context) ([]Run, error) {
	runs, err := a.db.LatestRuns(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].YearKey < runs[j].YearKey })
	return runs, nil
}

// YearStatus returns the latest run for year. ok is false when the year has
// never been attempted.
func (a *App) YearStatus(ctx context.Context, year int) (run Run, ok bool, err error) {
	return a.db.LatestRun(ctx, year)
}

// Years lists the registered academic years.
func (a *App) Years(ctx context.Context) ([]AcademicYear, error) {
	return a.db.ListYears(ctx)
}

// Scores queries the fact table. total is the match count before paging.
func (a *App) Scores(ctx context.Context, f ScoreFilter) (scores []Score, total int, err error) {
	return a.db.QueryScores(ctx, f)
}

// Catalog lists reference catalog entries of kind, or all kinds when kind
// is empty.
func (a *App) Catalog(ctx context.Context, kind EntityKind) ([]ReferenceEntity, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("unknown catalog kind %q", kind)
	}
	return a.db.ListCatalog(ctx, kind)
}

// Migrations reports which embedded migration files have been applied.
func (a *App) Migrations(ctx context.Context) ([]string, error) {
	applied, err := a.db.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(applied))
	for name := range applied {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Healthy returns nil when the store and, if configured, Qdrant respond.
func (a *App) Healthy(ctx context.Context) error {
	if err := a.db.Ping(ctx); err != nil {
		return err
	}
	if a.qdrantIndex != nil {
		return a.qdrantIndex.Healthy(ctx)
	}
	return nil
}

// Close releases every connection. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if a.manifest != nil {
		if err := a.manifest.Close(); err != nil {
			a.logger.Warn("manifest close failed", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
}
