// Package storage archives finished media. It defines the Storage interface
// and implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidKey is returned when a key is empty or would escape the
// storage root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Storage defines the interface for persisting finished media.
type Storage interface {
	// Save stores data under key and returns where it can be found: a file
	// path for local storage, a URL for S3.
	Save(ctx context.Context, key string, data io.Reader) (location string, err error)
}
