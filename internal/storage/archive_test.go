package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpDownloader is a minimal Downloader backed by net/http.
type httpDownloader struct{}

func (httpDownloader) DownloadMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.New(resp.Status)
	}
	return resp.Body, nil
}

type failingDownloader struct{}

func (failingDownloader) DownloadMedia(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("connection reset")
}

func TestArchiver_Archive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("rendered video"))
	}))
	defer server.Close()

	store := setupTestStorage(t)
	archiver := NewArchiver(httpDownloader{}, store, nil)

	location, err := archiver.Archive(context.Background(), server.URL+"/out/result.WEBM?sig=1")
	require.NoError(t, err)

	assert.Equal(t, store.Dir(), filepath.Dir(location))
	assert.True(t, strings.HasPrefix(filepath.Base(location), "video-"))
	assert.Equal(t, ".webm", filepath.Ext(location))

	content, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "rendered video", string(content))
}

func TestArchiver_DownloadError(t *testing.T) {
	archiver := NewArchiver(failingDownloader{}, setupTestStorage(t), nil)

	_, err := archiver.Archive(context.Background(), "http://x/video.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download media")
}

func TestMediaExtension(t *testing.T) {
	tests := map[string]string{
		"http://x/video.mp4":           ".mp4",
		"http://x/video.MP4?token=abc": ".mp4",
		"http://x/still.png":           ".png",
		"http://x/no-extension":        ".mp4",
		"http://x/odd.averylongext":    ".mp4",
	}
	for in, want := range tests {
		assert.Equal(t, want, mediaExtension(in), in)
	}
}
