package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage implements the Storage interface using local disk.
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a new LocalStorage instance rooted at dir.
// If dir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "img2video")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	return &LocalStorage{dir: dir}, nil
}

// Dir returns the storage root.
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Save writes data to <dir>/<key> and returns the file path. The file only
// appears under its final name once fully written.
func (s *LocalStorage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context cancelled: %w", err)
	}

	dest, err := s.path(key)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.dir, "."+filepath.Base(dest)+"_*")
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	tmpName := f.Name()
	if _, err := io.Copy(f, contextReader{ctx: ctx, r: data}); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("rename file: %w", err)
	}

	return dest, nil
}

// Open returns a reader for a previously saved key.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	p, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) // #nosec G304 - path is confined to the storage root
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Remove deletes the given keys. Missing files are ignored; it keeps going
// after a failure and returns the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, keys ...string) error {
	var firstErr error
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		p, err := s.path(k)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

func (s *LocalStorage) path(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" || k != filepath.Base(k) || k == "." || k == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, k), nil
}

// contextReader stops a copy once the context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ Storage = (*LocalStorage)(nil)
