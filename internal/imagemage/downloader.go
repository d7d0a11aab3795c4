package imagemage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Downloader fetches a remote image into a new local file and returns its path.
// The caller owns the returned file. On error no file is left behind.
type Downloader interface {
	Download(ctx context.Context, url string) (string, error)
}

const (
	// DefaultDownloadTimeout bounds one remote fetch, body included.
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxDownloadBytes caps the size of a downloaded image.
	DefaultMaxDownloadBytes int64 = 50 * 1024 * 1024
	// fallbackExtension is used when the content type names no known image format.
	fallbackExtension = ".bin"
)

// imageExtensions maps image MIME types to the extension given to downloads.
var imageExtensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/jpg":     ".jpg",
	"image/pjpeg":   ".jpg",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"image/heic":    ".heic",
	"image/heif":    ".heif",
	"image/avif":    ".avif",
	"image/svg+xml": ".svg",
}

// ExtensionForContentType returns the file extension for a Content-Type
// header value. Parameters are ignored; unknown or empty types get ".bin".
func ExtensionForContentType(contentType string) string {
	if contentType == "" {
		return fallbackExtension
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	if ext, ok := imageExtensions[strings.ToLower(mediaType)]; ok {
		return ext
	}
	return fallbackExtension
}

// HTTPDownloader implements Downloader with net/http.
type HTTPDownloader struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	tempDir  string
	logger   *slog.Logger
}

// DownloaderOption configures an HTTPDownloader.
type DownloaderOption func(*HTTPDownloader)

// WithDownloadTimeout overrides the per-download bound. Non-positive values are ignored.
func WithDownloadTimeout(d time.Duration) DownloaderOption {
	return func(h *HTTPDownloader) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMaxDownloadBytes overrides the size cap. Non-positive values are ignored.
func WithMaxDownloadBytes(n int64) DownloaderOption {
	return func(h *HTTPDownloader) {
		if n > 0 {
			h.maxBytes = n
		}
	}
}

// WithTempDir sets the directory downloads are written to. Empty means os.TempDir().
func WithTempDir(dir string) DownloaderOption {
	return func(h *HTTPDownloader) { h.tempDir = dir }
}

// WithHTTPClient replaces the HTTP client (e.g. an httptest server's client).
func WithHTTPClient(c *http.Client) DownloaderOption {
	return func(h *HTTPDownloader) {
		if c != nil {
			h.client = c
		}
	}
}

// WithDownloaderLogger sets the logger. If nil, slog.Default() is used.
func WithDownloaderLogger(l *slog.Logger) DownloaderOption {
	return func(h *HTTPDownloader) { h.logger = l }
}

// NewHTTPDownloader creates a downloader with a 30s bound and a 50 MiB cap.
func NewHTTPDownloader(opts ...DownloaderOption) *HTTPDownloader {
	h := &HTTPDownloader{
		client:   &http.Client{},
		timeout:  DefaultDownloadTimeout,
		maxBytes: DefaultMaxDownloadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTPDownloader) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// Package-level injectable function vars; tests override these to reach
// error paths that real files rarely produce.
var (
	createTempFunc = os.CreateTemp
	newRequestFunc = http.NewRequestWithContext
)

// Download GETs rawURL and writes the body to a fresh temp file named after
// the response's content type.
func (h *HTTPDownloader) Download(ctx context.Context, rawURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := newRequestFunc(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &DownloadError{Kind: Network, URL: rawURL, Err: err}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DownloadError{Kind: HTTPStatus, URL: rawURL, StatusCode: resp.StatusCode}
	}

	ext := ExtensionForContentType(resp.Header.Get("Content-Type"))
	f, err := createTempFunc(h.tempDir, "imagemage-*"+ext)
	if err != nil {
		return "", fmt.Errorf("download %s: create temp file: %w", rawURL, err)
	}
	path := f.Name()

	n, copyErr := io.Copy(f, io.LimitReader(resp.Body, h.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = classifyTransportError(ctx, rawURL, copyErr)
	case n > h.maxBytes:
		err = &DownloadError{Kind: TooLarge, URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", h.maxBytes)}
	case closeErr != nil:
		err = fmt.Errorf("download %s: write temp file: %w", rawURL, closeErr)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			h.log().Warn("remove partial download", "path", path, "error", rmErr)
		}
		return "", err
	}

	h.log().Debug("downloaded image", "url", rawURL, "path", path, "bytes", n)
	return path, nil
}

// classifyTransportError maps a client or body-read failure to Timeout or Network.
func classifyTransportError(ctx context.Context, rawURL string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &DownloadError{Kind: DownloadTimeout, URL: rawURL, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &DownloadError{Kind: DownloadTimeout, URL: rawURL, Err: err}
	}
	return &DownloadError{Kind: Network, URL: rawURL, Err: err}
}
