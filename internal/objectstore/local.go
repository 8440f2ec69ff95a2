package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mediaflow/internal/fileutil"
)

// Local stores objects as files under a base directory.
type Local struct {
	base string
}

// NewLocal creates the base directory if needed.
func NewLocal(base string) (*Local, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("local archive directory not configured")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &Local{base: base}, nil
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.base, clean), nil
}

// Put copies path into the archive with hash verification.
func (l *Local) Put(_ context.Context, key, path string) (Object, error) {
	dest, err := l.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := fileutil.CopyAtomic(path, dest); err != nil {
		return Object{}, fmt.Errorf("archive %s: %w", key, err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, Location: dest, Size: info.Size()}, nil
}

// Stat reports the archived file.
func (l *Local) Stat(_ context.Context, key string) (Object, error) {
	dest, err := l.path(key)
	if err != nil {
		return Object{}, err
	}
	info, err := os.Stat(dest)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, ErrObjectNotFound
	}
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, Location: dest, Size: info.Size()}, nil
}

// Delete removes the archived file. Missing files are not an error.
func (l *Local) Delete(_ context.Context, key string) error {
	dest, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Remote implements Store.
func (l *Local) Remote() bool { return false }
