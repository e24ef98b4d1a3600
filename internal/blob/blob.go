// Package blob stores raw source files under content-addressed keys.
//
// Every driver implements create-only semantics: Put fails with ErrExists
// when the key is already present, so two writers racing on the same file
// never clobber each other and the first complete copy wins.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ashita-ai/edustats/internal/config"
)

// Driver names a Store implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

var (
	// ErrExists is returned by Put when the key is already stored.
	ErrExists = errors.New("blob: already exists")
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("blob: not found")
)

// Info describes a stored object.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is a create-only key/value store for raw files.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Open builds the Store selected by cfg.CacheDriver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch Driver(cfg.CacheDriver) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.CacheDir)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.CacheS3Bucket,
			Region:    cfg.CacheS3Region,
			Endpoint:  cfg.CacheS3Endpoint,
			PathStyle: cfg.CacheS3PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.CacheDriver)
	}
}

// cleanKey rejects keys that could escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("blob: invalid key %q", key)
		}
	}
	return path.Clean(key), nil
}
