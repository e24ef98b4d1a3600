package edustats

import (
	"log/slog"
	"net/http"

	"github.com/ashita-ai/edustats/internal/config"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds overrides after applying every Option. Unexported;
// callers use the With* functions.
type resolvedOptions struct {
	logger            *slog.Logger
	version           string
	databaseURL       string
	workers           int
	lastYears         int
	upsertPolicy      string
	qdrantURL         *string
	embeddingProvider EmbeddingProvider
	httpClient        *http.Client
	skipMigrations    bool
}

// apply writes the overrides into cfg. Zero values leave cfg untouched.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.workers > 0 {
		cfg.Workers = o.workers
	}
	if o.lastYears > 0 {
		cfg.LastYears = o.lastYears
	}
	if o.upsertPolicy != "" {
		cfg.UpsertPolicy = o.upsertPolicy
	}
	if o.qdrantURL != nil {
		cfg.QdrantURL = *o.qdrantURL
	}
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabaseURL overrides DATABASE_URL.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithWorkers overrides EDUSTATS_WORKERS, the number of years ingested in
// parallel.
func WithWorkers(n int) Option {
	return func(o *resolvedOptions) { o.workers = n }
}

// WithLastYears overrides EDUSTATS_LAST_YEARS, the size of the default year
// window.
func WithLastYears(n int) Option {
	return func(o *resolvedOptions) { o.lastYears = n }
}

// WithUpsertPolicy overrides EDUSTATS_UPSERT_POLICY ("replace" or
// "reload-year").
func WithUpsertPolicy(policy string) Option {
	return func(o *resolvedOptions) { o.upsertPolicy = policy }
}

// WithQdrantURL overrides QDRANT_URL. An empty url selects the pgvector
// catalog index even when the environment names a Qdrant server.
func WithQdrantURL(url string) Option {
	return func(o *resolvedOptions) { o.qdrantURL = &url }
}

// WithEmbeddingProvider replaces the configured embedding backend
// (Ollama/OpenAI/noop).
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithHTTPClient sets the client used to download source files.
func WithHTTPClient(c *http.Client) Option {
	return func(o *resolvedOptions) { o.httpClient = c }
}

// WithoutMigrations skips applying the embedded migrations, for deployments
// that manage the schema externally.
func WithoutMigrations() Option {
	return func(o *resolvedOptions) { o.skipMigrations = true }
}
