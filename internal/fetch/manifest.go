package fetch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Entry records the last successful download of one (year, category) file.
type Entry struct {
	Year         int
	Category     Category
	URL          string
	ETag         string
	LastModified string
	Hash         string
	Size         int64
	FetchedAt    time.Time
}

// Key is the blob key of the cached body.
func (e Entry) Key() string { return BlobKey(e.Year, e.Category, e.Hash) }

// BlobKey builds the content-addressed cache key.
func BlobKey(year int, c Category, hash string) string {
	return fmt.Sprintf("raw/%d/%s/%s", year, c, hash)
}

// Manifest is a local SQLite table of fetched files. It lets repeat runs
// issue conditional requests and reuse cached bodies.
type Manifest struct {
	db *sql.DB
}

// OpenManifest opens (and creates) the manifest database at path.
// ":memory:" gives a private in-memory manifest.
func OpenManifest(path string) (*Manifest, error) {
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("manifest: create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open sqlite: %w", err)
	}
	// Year workers share the manifest; a single connection serializes writes.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS fetch_manifest (
		year          INTEGER NOT NULL,
		category      TEXT    NOT NULL,
		url           TEXT    NOT NULL,
		etag          TEXT    NOT NULL DEFAULT '',
		last_modified TEXT    NOT NULL DEFAULT '',
		hash          TEXT    NOT NULL,
		size          INTEGER NOT NULL,
		fetched_at    TEXT    NOT NULL,
		PRIMARY KEY (year, category)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("manifest: create table: %w", err)
	}
	return &Manifest{db: db}, nil
}

// Lookup returns the entry for (year, c). ok is false when none exists.
func (m *Manifest) Lookup(ctx context.Context, year int, c Category) (Entry, bool, error) {
	var e Entry
	var fetchedAt string
	err := m.db.QueryRowContext(ctx,
		`SELECT year, category, url, etag, last_modified, hash, size, fetched_at
		 FROM fetch_manifest WHERE year = ? AND category = ?`, year, string(c),
	).Scan(&e.Year, &e.Category, &e.URL, &e.ETag, &e.LastModified, &e.Hash, &e.Size, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("manifest: lookup %d/%s: %w", year, c, err)
	}
	e.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt)
	return e, true, nil
}

// Record inserts or replaces the entry for (e.Year, e.Category).
func (m *Manifest) Record(ctx context.Context, e Entry) error {
	if e.FetchedAt.IsZero() {
		e.FetchedAt = time.Now().UTC()
	}
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO fetch_manifest (year, category, url, etag, last_modified, hash, size, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (year, category) DO UPDATE SET
		   url = excluded.url, etag = excluded.etag, last_modified = excluded.last_modified,
		   hash = excluded.hash, size = excluded.size, fetched_at = excluded.fetched_at`,
		e.Year, string(e.Category), e.URL, e.ETag, e.LastModified, e.Hash, e.Size,
		e.FetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("manifest: record %d/%s: %w", e.Year, e.Category, err)
	}
	return nil
}

// Close releases the database handle.
func (m *Manifest) Close() error { return m.db.Close() }
