package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/maauso/img2video/internal/id"
)

// Downloader opens remote media for reading.
type Downloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error)
}

// Archiver copies finished media from the generation service into a Storage.
type Archiver struct {
	downloader Downloader
	store      Storage
	logger     *slog.Logger
}

// NewArchiver creates an Archiver. A nil logger means slog.Default().
func NewArchiver(downloader Downloader, store Storage, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{downloader: downloader, store: store, logger: logger}
}

// Archive downloads mediaURL and saves it under a generated key that keeps
// the media's file extension. It returns the storage location.
func (a *Archiver) Archive(ctx context.Context, mediaURL string) (string, error) {
	rc, err := a.downloader.DownloadMedia(ctx, mediaURL)
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}
	defer func() { _ = rc.Close() }()

	key := id.Generate("video") + mediaExtension(mediaURL)
	location, err := a.store.Save(ctx, key, rc)
	if err != nil {
		return "", fmt.Errorf("save media: %w", err)
	}

	a.logger.Info("media archived",
		slog.String("media_url", mediaURL),
		slog.String("key", key),
		slog.String("location", location),
	)
	return location, nil
}

// mediaExtension returns the lower-cased extension of the URL path, or
// ".mp4" when there is none.
func mediaExtension(mediaURL string) string {
	p := mediaURL
	if u, err := url.Parse(mediaURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		return ".mp4"
	}
	return ext
}
