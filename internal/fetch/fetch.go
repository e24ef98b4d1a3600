// Package fetch retrieves the per-year source files from the remote
// repository, with bounded retries and a content-addressed local cache.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/blake2b"

	"github.com/ashita-ai/edustats/internal/blob"
	"github.com/ashita-ai/edustats/internal/config"
	"github.com/ashita-ai/edustats/internal/telemetry"
)

// Payload is one retrieved file.
type Payload struct {
	Year      int
	Category  Category
	URL       string
	Hash      string
	Body      []byte
	FromCache bool
}

// Options configures a Fetcher.
type Options struct {
	BaseURL     string
	Paths       map[string]string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     time.Duration
	HTTPClient  *http.Client
}

// OptionsFromConfig maps the EDUSTATS_SOURCE_* and EDUSTATS_FETCH_* settings.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		BaseURL:     cfg.SourceBaseURL,
		Paths:       cfg.SourcePaths,
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		Backoff:     cfg.FetchBackoff,
	}
}

// Fetcher downloads source files. Safe for concurrent use.
type Fetcher struct {
	opts     Options
	client   *http.Client
	cache    blob.Store
	manifest *Manifest
	logger   *slog.Logger
	attempts metric.Int64Counter
}

// New creates a Fetcher. cache and manifest may be nil, which disables
// conditional requests and body caching.
func New(opts Options, cache blob.Store, manifest *Manifest, logger *slog.Logger) *Fetcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	attempts, _ := telemetry.Meter("edustats/fetch").Int64Counter("edustats.fetch.attempts",
		metric.WithDescription("HTTP attempts made against the source repository"))
	return &Fetcher{
		opts:     opts,
		client:   client,
		cache:    cache,
		manifest: manifest,
		logger:   logger,
		attempts: attempts,
	}
}

// Fetch retrieves the file of category c for year.
func (f *Fetcher) Fetch(ctx context.Context, year int, c Category) (Payload, error) {
	url, err := ResolveURL(f.opts.BaseURL, f.opts.Paths, year, c)
	if err != nil {
		return Payload{}, err
	}

	var cached *Entry
	if f.manifest != nil && f.cache != nil {
		e, ok, err := f.manifest.Lookup(ctx, year, c)
		if err != nil {
			f.logger.Warn("fetch: manifest lookup failed", "year", year, "category", c, "error", err)
		} else if ok && e.URL == url {
			if exists, err := f.cache.Exists(ctx, e.Key()); err == nil && exists {
				cached = &e
			}
		}
	}
	return f.fetch(ctx, year, c, url, cached)
}

func (f *Fetcher) fetch(ctx context.Context, year int, c Category, url string, cached *Entry) (Payload, error) {
	fail := func(kind ErrorKind, status, attempt int, err error) (Payload, error) {
		return Payload{}, &FetchError{Year: year, Category: c, URL: url, Kind: kind, Status: status, Attempts: attempt, Err: err}
	}

	var lastErr error
	lastStatus := 0
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := f.sleep(ctx, attempt-1); err != nil {
				return Payload{}, err
			}
		}
		res, err := f.attempt(ctx, url, cached)
		f.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(c)),
			attribute.Bool("success", err == nil && res.status < 400),
		))
		if err != nil {
			if ctx.Err() != nil {
				return Payload{}, ctx.Err()
			}
			f.logger.Warn("fetch: attempt failed", "year", year, "category", c, "attempt", attempt, "error", err)
			lastErr, lastStatus = err, 0
			continue
		}

		switch {
		case res.status == http.StatusNotModified && cached != nil:
			body, err := f.cache.Get(ctx, cached.Key())
			if err != nil {
				f.logger.Warn("fetch: cached body unreadable, refetching", "key", cached.Key(), "error", err)
				return f.fetch(ctx, year, c, url, nil)
			}
			f.logger.Debug("fetch: not modified", "year", year, "category", c)
			return Payload{Year: year, Category: c, URL: url, Hash: cached.Hash, Body: body, FromCache: true}, nil

		case res.status == http.StatusOK:
			if !acceptedContentType(res.contentType) {
				return fail(KindContentType, res.status, attempt, fmt.Errorf("unexpected content type %q", res.contentType))
			}
			return f.store(ctx, year, c, url, res)

		case res.status == http.StatusNotFound || res.status == http.StatusGone:
			return fail(KindNotFound, res.status, attempt, nil)

		case res.status == http.StatusTooManyRequests || res.status >= 500:
			f.logger.Warn("fetch: retryable status", "year", year, "category", c, "attempt", attempt, "status", res.status)
			lastErr, lastStatus = fmt.Errorf("status %d", res.status), res.status
			continue

		default:
			return fail(KindStatus, res.status, attempt, nil)
		}
	}
	if lastStatus == 0 {
		return fail(KindTransport, 0, f.opts.MaxAttempts, lastErr)
	}
	return fail(KindExhausted, lastStatus, f.opts.MaxAttempts, lastErr)
}

type response struct {
	status       int
	contentType  string
	etag         string
	lastModified string
	body         []byte
}

// attempt performs one request bounded by the per-attempt timeout. The body
// is read inside the deadline so a stalled transfer counts as a failure.
func (f *Fetcher) attempt(ctx context.Context, url string, cached *Entry) (response, error) {
	actx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return response{}, fmt.Errorf("create request: %w", err)
	}
	if cached != nil {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	r := response{
		status:       resp.StatusCode,
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusOK {
		r.body, err = io.ReadAll(resp.Body)
		if err != nil {
			return response{}, fmt.Errorf("read body: %w", err)
		}
		if resp.ContentLength >= 0 && int64(len(r.body)) != resp.ContentLength {
			return response{}, fmt.Errorf("short body: got %d of %d bytes", len(r.body), resp.ContentLength)
		}
	} else {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	}
	return r, nil
}

func (f *Fetcher) store(ctx context.Context, year int, c Category, url string, r response) (Payload, error) {
	sum := blake2b.Sum256(r.body)
	hash := hex.EncodeToString(sum[:])
	p := Payload{Year: year, Category: c, URL: url, Hash: hash, Body: r.body}
	if f.cache == nil {
		return p, nil
	}

	key := BlobKey(year, c, hash)
	if _, err := f.cache.Put(ctx, key, r.body, r.contentType); err != nil && !errors.Is(err, blob.ErrExists) {
		f.logger.Warn("fetch: cache write failed", "key", key, "error", err)
		return p, nil
	}
	if f.manifest != nil {
		err := f.manifest.Record(ctx, Entry{
			Year: year, Category: c, URL: url,
			ETag: r.etag, LastModified: r.lastModified,
			Hash: hash, Size: int64(len(r.body)),
		})
		if err != nil {
			f.logger.Warn("fetch: manifest write failed", "year", year, "category", c, "error", err)
		}
	}
	return p, nil
}

// sleep waits base*2^(n-1) plus up to base of jitter.
func (f *Fetcher) sleep(ctx context.Context, n int) error {
	base := f.opts.Backoff
	if base <= 0 {
		return ctx.Err()
	}
	d := base << (n - 1)
	d += time.Duration(rand.Int64N(int64(base))) //nolint:gosec // jitter doesn't need crypto-strength randomness
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func acceptedContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	switch mt {
	case "application/zip", "application/x-zip-compressed", "application/x-zip",
		"application/octet-stream", "text/plain", "text/csv":
		return true
	}
	return false
}
