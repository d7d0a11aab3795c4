package imagemage

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
)

// =============================================================================
// Shared Test Doubles
// =============================================================================

// stubLookPath makes every binary appear to be on PATH for the test.
func stubLookPath(t *testing.T) {
	t.Helper()
	orig := lookPath
	lookPath = func(file string) (string, error) { return "/usr/local/bin/" + file, nil }
	t.Cleanup(func() { lookPath = orig })
}

// writePNG writes a solid w×h PNG to path.
func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 255, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("write png: %v", err)
	}
}

// touch creates an empty file and returns its path.
func touch(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fakeRunner records each call and, when writeOutput is set, writes a PNG to
// the -o path before returning.
type fakeRunner struct {
	mu          sync.Mutex
	calls       [][]string
	names       []string
	writeOutput bool
	stdout      string
	stderr      string
	err         error
	onRun       func(args []string)
	block       bool // wait for ctx.Done()
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) (string, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.names = append(f.names, name)
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(args)
	}
	if f.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if f.writeOutput {
		for i := 0; i+1 < len(args); i++ {
			if args[i] == "-o" {
				img := imaging.New(4, 3, color.NRGBA{B: 255, A: 255})
				if err := imaging.Save(img, args[i+1]); err != nil {
					return "", err.Error(), errors.New("write failed")
				}
			}
		}
	}
	return f.stdout, f.stderr, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) lastArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// mockExitError is a test double for process exit errors with non-zero codes.
type mockExitError struct {
	code int
}

func (m *mockExitError) Error() string { return fmt.Sprintf("exit status %d", m.code) }
func (m *mockExitError) ExitCode() int { return m.code }

// spyDownloader records the URLs it was asked for.
type spyDownloader struct {
	urls []string
	path string
	err  error
}

func (s *spyDownloader) Download(ctx context.Context, url string) (string, error) {
	s.urls = append(s.urls, url)
	return s.path, s.err
}

// recordingDownloader wraps a real downloader and remembers every file it produced.
type recordingDownloader struct {
	inner Downloader
	mu    sync.Mutex
	paths []string
}

func (r *recordingDownloader) Download(ctx context.Context, url string) (string, error) {
	p, err := r.inner.Download(ctx, url)
	if err == nil {
		r.mu.Lock()
		r.paths = append(r.paths, p)
		r.mu.Unlock()
	}
	return p, err
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
