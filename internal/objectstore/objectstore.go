// Package objectstore archives processed artifacts either to an
// S3-compatible bucket or to a local archive directory behind one interface.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"mediaflow/internal/config"
)

// ErrObjectNotFound is returned by Stat when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored artifact.
type Object struct {
	Key      string
	Location string
	Size     int64
}

// Store is the archive backend used by the upload and finalize stages.
type Store interface {
	// Put uploads the local file at path under key.
	Put(ctx context.Context, key, path string) (Object, error)
	// Stat returns the stored object or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	// Remote reports whether objects live off this host.
	Remote() bool
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.Storage, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.StorageLocal:
		return NewLocal(cfg.ArchiveDir)
	case config.StorageS3:
		return NewS3(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// Key joins the configured prefix and a relative object key.
func Key(prefix, key string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	key = strings.TrimLeft(key, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// ParseS3Location splits an s3://bucket/key URI.
func ParseS3Location(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(location), "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
