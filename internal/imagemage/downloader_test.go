package imagemage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireDownloadKind(t *testing.T, err error, want DownloadErrorKind) *DownloadError {
	t.Helper()
	var de *DownloadError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DownloadError, got %T: %v", err, err)
	}
	if de.Kind != want {
		t.Errorf("expected kind %s, got %s (%v)", want, de.Kind, err)
	}
	return de
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files left in %s, found %d", dir, len(entries))
	}
}

// =============================================================================
// ExtensionForContentType
// =============================================================================

func TestExtensionForContentType_ShouldMapKnownImageTypes(t *testing.T) {
	cases := map[string]string{
		"image/png":                 ".png",
		"image/jpeg":                ".jpg",
		"IMAGE/JPEG":                ".jpg",
		"image/jpeg; charset=utf-8": ".jpg",
		"image/webp":                ".webp",
		"image/gif":                 ".gif",
		"image/svg+xml":             ".svg",
		"":                          ".bin",
		"text/html":                 ".bin",
		"application/octet-stream":  ".bin",
		"image/x-unheard-of":        ".bin",
		";;garbage":                 ".bin",
	}
	for ct, want := range cases {
		if got := ExtensionForContentType(ct); got != want {
			t.Errorf("ExtensionForContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}

// =============================================================================
// HTTPDownloader.Download — success paths
// =============================================================================

func TestHTTPDownloader_Download_WhenPNG_ShouldWriteBodyToPNGTempFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewHTTPDownloader(WithTempDir(dir))
	path, err := d.Download(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(path) != ".png" {
		t.Errorf("expected .png extension, got %q", path)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("expected file in %s, got %s", dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("expected body to be written, got %q", data)
	}
}

func TestHTTPDownloader_Download_WhenJPEG_ShouldUseJPGExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	path, err := NewHTTPDownloader(WithTempDir(t.TempDir())).Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(path, ".jpg") {
		t.Errorf("expected .jpg, got %q", path)
	}
}

func TestHTTPDownloader_Download_WhenContentTypeAbsent_ShouldFallBackToBin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A nil entry stops net/http from sniffing a type.
		w.Header()["Content-Type"] = nil
		w.Write([]byte("mystery"))
	}))
	defer srv.Close()

	path, err := NewHTTPDownloader(WithTempDir(t.TempDir())).Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(path) != ".bin" {
		t.Errorf("expected .bin fallback, got %q", path)
	}
}

func TestHTTPDownloader_Download_WhenCalledTwice_ShouldCreateUniqueFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		w.Write([]byte("GIF89a"))
	}))
	defer srv.Close()

	d := NewHTTPDownloader(WithTempDir(t.TempDir()))
	a, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	b, err := d.Download(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("expected distinct temp files, both were %q", a)
	}
}

// =============================================================================
// HTTPDownloader.Download — failures
// =============================================================================

func TestHTTPDownloader_Download_WhenStatusNot2xx_ShouldFailHTTPStatusAndLeaveNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHTTPDownloader(WithTempDir(dir)).Download(context.Background(), srv.URL)
	de := requireDownloadKind(t, err, HTTPStatus)
	if de.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", de.StatusCode)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status in message, got %q", err.Error())
	}
	requireEmptyDir(t, dir)
}

func TestHTTPDownloader_Download_WhenServerHangs_ShouldFailTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := NewHTTPDownloader(WithTempDir(dir), WithDownloadTimeout(50*time.Millisecond))
	_, err := d.Download(context.Background(), srv.URL)
	requireDownloadKind(t, err, DownloadTimeout)
	if !IsTimeout(err) {
		t.Error("IsTimeout should report a download timeout")
	}
	requireEmptyDir(t, dir)
}

func TestHTTPDownloader_Download_WhenBodyStalls_ShouldFailTimeoutAndRemovePartialFile(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := NewHTTPDownloader(WithTempDir(dir), WithDownloadTimeout(100*time.Millisecond))
	_, err := d.Download(context.Background(), srv.URL)
	requireDownloadKind(t, err, DownloadTimeout)
	requireEmptyDir(t, dir)
}

func TestHTTPDownloader_Download_WhenConnectionRefused_ShouldFailNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPDownloader(WithTempDir(t.TempDir())).Download(context.Background(), url)
	requireDownloadKind(t, err, Network)
}

func TestHTTPDownloader_Download_WhenURLMalformed_ShouldFailNetwork(t *testing.T) {
	_, err := NewHTTPDownloader().Download(context.Background(), "http://[::1")
	requireDownloadKind(t, err, Network)
}

func TestHTTPDownloader_Download_WhenBodyExceedsCap_ShouldFailTooLargeAndLeaveNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := NewHTTPDownloader(WithTempDir(dir), WithMaxDownloadBytes(10)).Download(context.Background(), srv.URL)
	requireDownloadKind(t, err, TooLarge)
	requireEmptyDir(t, dir)
}

func TestHTTPDownloader_Download_WhenTempFileCannotBeCreated_ShouldReturnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png"))
	}))
	defer srv.Close()

	orig := createTempFunc
	createTempFunc = func(dir, pattern string) (*os.File, error) { return nil, errors.New("disk full") }
	defer func() { createTempFunc = orig }()

	_, err := NewHTTPDownloader().Download(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected create temp error, got %v", err)
	}
}

func TestNewHTTPDownloader_ShouldIgnoreNonPositiveOverrides(t *testing.T) {
	d := NewHTTPDownloader(WithDownloadTimeout(0), WithMaxDownloadBytes(-1), WithHTTPClient(nil))
	if d.timeout != DefaultDownloadTimeout {
		t.Errorf("expected default timeout, got %s", d.timeout)
	}
	if d.maxBytes != DefaultMaxDownloadBytes {
		t.Errorf("expected default cap, got %d", d.maxBytes)
	}
	if d.client == nil {
		t.Error("expected a default client")
	}
}
