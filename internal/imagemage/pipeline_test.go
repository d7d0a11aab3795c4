package imagemage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Fixtures
// =============================================================================

// imageServer serves /cat.jpg (image/jpeg), /dog.png (image/png) and /slow
// (never answers), counting requests.
type imageServer struct {
	*httptest.Server
	hits    atomic.Int32
	release chan struct{}
}

func newImageServer(t *testing.T) *imageServer {
	t.Helper()
	s := &imageServer{release: make(chan struct{})}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		switch r.URL.Path {
		case "/cat.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
		case "/dog.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG"))
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-s.release:
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(func() {
		close(s.release)
		s.Close()
	})
	return s
}

type spyViewer struct{ opened []string }

func (v *spyViewer) Open(path string) error {
	v.opened = append(v.opened, path)
	return nil
}

type testPipeline struct {
	*Pipeline
	runner    *fakeRunner
	downloads *recordingDownloader
	tempDir   string
	outputDir string
}

func newTestPipeline(t *testing.T, runner *fakeRunner, opts ...Option) *testPipeline {
	t.Helper()
	stubLookPath(t)
	tmp := t.TempDir()
	out := t.TempDir()
	rec := &recordingDownloader{inner: NewHTTPDownloader(WithTempDir(tmp), WithDownloadTimeout(200*time.Millisecond))}
	opts = append([]Option{WithOutputDir(out), WithViewer(&spyViewer{})}, opts...)
	p := NewPipeline(NewResolver(rec), NewInvoker(runner), opts...)
	return &testPipeline{Pipeline: p, runner: runner, downloads: rec, tempDir: tmp, outputDir: out}
}

func (tp *testPipeline) requireNoTempFiles(t *testing.T) {
	t.Helper()
	for _, p := range tp.downloads.paths {
		if exists(p) {
			t.Errorf("temp file %s was not cleaned up", p)
		}
	}
	requireEmptyDir(t, tp.tempDir)
}

// =============================================================================
// Pipeline.Run — generate with defaults
// =============================================================================

func TestPipeline_Run_GenerateWithDefaults_ShouldInvokeWithPromptAndOutput(t *testing.T) {
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)
	out := filepath.Join(t.TempDir(), "balloon.png")

	res, err := tp.Run(context.Background(), InvocationRequest{Prompt: "a red balloon", OutputPath: out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"generate", "a red balloon", "-o", out}
	if !equalArgs(runner.lastArgs(), want) {
		t.Errorf("expected args %q, got %q", want, runner.lastArgs())
	}
	if res.Path != out {
		t.Errorf("expected result path %q, got %q", out, res.Path)
	}
	data, _ := os.ReadFile(out)
	if string(res.Attachment.Data) != string(data) {
		t.Error("attachment must be the output file's content")
	}
	if res.Attachment.MIMEType != "image/png" {
		t.Errorf("expected image/png, got %q", res.Attachment.MIMEType)
	}
	if res.InvocationID == "" {
		t.Error("expected an invocation id")
	}
}

func TestPipeline_Run_WhenRequestCarriesInvocationID_ShouldUseIt(t *testing.T) {
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)

	res, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p", InvocationID: "from-caller"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.InvocationID != "from-caller" {
		t.Errorf("expected caller id, got %q", res.InvocationID)
	}
	if want := filepath.Join(tp.outputDir, "imagemage-from-caller.png"); res.Path != want {
		t.Errorf("expected %q, got %q", want, res.Path)
	}
}

func TestPipeline_Run_WhenNoOutputPath_ShouldWriteUnderOutputDir(t *testing.T) {
	orig := newID
	newID = func() string { return "fixed-id" }
	defer func() { newID = orig }()

	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)

	res, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(tp.outputDir, "imagemage-fixed-id.png")
	if res.Path != want {
		t.Errorf("expected %q, got %q", want, res.Path)
	}
}

func TestPipeline_Run_WhenOutputDirCannotBeCreated_ShouldFailBeforeRunning(t *testing.T) {
	orig := mkdirAll
	mkdirAll = func(string, os.FileMode) error { return errors.New("read-only fs") }
	defer func() { mkdirAll = orig }()

	runner := &fakeRunner{}
	tp := newTestPipeline(t, runner)
	if _, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if runner.callCount() != 0 {
		t.Error("runner must not be called")
	}
}

func TestPipeline_Run_WhenDefaultModelIsFlash_ShouldEmitFrugal(t *testing.T) {
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner, WithDefaultModel("flash"))
	if _, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	args := runner.lastArgs()
	if args[len(args)-1] != "--frugal" {
		t.Errorf("expected --frugal from default model, got %q", args)
	}
}

// =============================================================================
// Pipeline.Run — edit with a remote primary image
// =============================================================================

func TestPipeline_Run_EditWithRemoteJPEG_ShouldPassDownloadedFileAndRemoveIt(t *testing.T) {
	srv := newImageServer(t)
	var seenDuringRun bool
	runner := &fakeRunner{writeOutput: true}
	runner.onRun = func(args []string) { seenDuringRun = exists(args[2]) }
	tp := newTestPipeline(t, runner)
	out := filepath.Join(t.TempDir(), "out.png")

	_, err := tp.Run(context.Background(), InvocationRequest{
		Operation: OpEdit, Prompt: "make it blue", Image: srv.URL + "/cat.jpg", OutputPath: out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tp.downloads.paths) != 1 {
		t.Fatalf("expected one download, got %d", len(tp.downloads.paths))
	}
	downloaded := tp.downloads.paths[0]
	if filepath.Ext(downloaded) != ".jpg" {
		t.Errorf("expected .jpg temp file, got %q", downloaded)
	}
	want := []string{"edit", "make it blue", downloaded, "-o", out}
	if !equalArgs(runner.lastArgs(), want) {
		t.Errorf("expected args %q, got %q", want, runner.lastArgs())
	}
	if !seenDuringRun {
		t.Error("downloaded file must exist while imagemage runs")
	}
	tp.requireNoTempFiles(t)
}

func TestPipeline_Run_EditWithRemoteJPEG_WhenProcessFails_ShouldStillRemoveDownload(t *testing.T) {
	srv := newImageServer(t)
	runner := &fakeRunner{stderr: "boom", err: &mockExitError{code: 1}}
	tp := newTestPipeline(t, runner)

	_, err := tp.Run(context.Background(), InvocationRequest{Operation: OpEdit, Prompt: "p", Image: srv.URL + "/cat.jpg"})
	requireProcessKind(t, err, ExecutionFailed)
	if len(tp.downloads.paths) != 1 {
		t.Fatalf("expected one download, got %d", len(tp.downloads.paths))
	}
	tp.requireNoTempFiles(t)
}

// =============================================================================
// Pipeline.Run — mixed local and remote additional images
// =============================================================================

func TestPipeline_Run_EditWithMixedAdditionalImages_ShouldDownloadOnlyRemoteAndKeepOrder(t *testing.T) {
	srv := newImageServer(t)
	local := t.TempDir()
	base := touch(t, local, "base.png")
	extraLocal := touch(t, local, "person.png")
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)
	out := filepath.Join(t.TempDir(), "out.png")

	_, err := tp.Run(context.Background(), InvocationRequest{
		Operation:        OpEdit,
		Prompt:           "compose",
		Image:            base,
		AdditionalImages: []string{extraLocal, srv.URL + "/dog.png"},
		OutputPath:       out,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := srv.hits.Load(); got != 1 {
		t.Errorf("expected exactly one download, got %d", got)
	}
	remote := tp.downloads.paths[0]
	want := []string{"edit", "compose", base, "-i", extraLocal, "-i", remote, "-o", out}
	if !equalArgs(runner.lastArgs(), want) {
		t.Errorf("expected args %q, got %q", want, runner.lastArgs())
	}
	if !exists(base) || !exists(extraLocal) {
		t.Error("caller-supplied files must not be removed")
	}
	tp.requireNoTempFiles(t)
}

// =============================================================================
// Pipeline.Run — download timeout
// =============================================================================

func TestPipeline_Run_WhenLaterDownloadTimesOut_ShouldAbortAndCleanEarlierDownloads(t *testing.T) {
	srv := newImageServer(t)
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)

	_, err := tp.Run(context.Background(), InvocationRequest{
		Operation:        OpEdit,
		Prompt:           "p",
		Image:            srv.URL + "/cat.jpg",
		AdditionalImages: []string{srv.URL + "/slow"},
	})
	requireDownloadKind(t, err, DownloadTimeout)
	if runner.callCount() != 0 {
		t.Error("imagemage must not run after a failed download")
	}
	if len(tp.downloads.paths) != 1 {
		t.Fatalf("expected the first download to have completed, got %d", len(tp.downloads.paths))
	}
	tp.requireNoTempFiles(t)
}

func TestPipeline_Run_WhenLaterReferenceMissing_ShouldCleanEarlierDownloads(t *testing.T) {
	srv := newImageServer(t)
	runner := &fakeRunner{}
	tp := newTestPipeline(t, runner)

	_, err := tp.Run(context.Background(), InvocationRequest{
		Operation:        OpEdit,
		Prompt:           "p",
		Image:            srv.URL + "/dog.png",
		AdditionalImages: []string{filepath.Join(t.TempDir(), "missing.png")},
	})
	requireResolutionKind(t, err, NotFound)
	if runner.callCount() != 0 {
		t.Error("imagemage must not run after a failed resolution")
	}
	tp.requireNoTempFiles(t)
}

// =============================================================================
// Pipeline.Run — non-zero exit
// =============================================================================

func TestPipeline_Run_WhenProcessExitsNonZero_ShouldSurfaceDiagnosticsAndClean(t *testing.T) {
	srv := newImageServer(t)
	runner := &fakeRunner{stderr: "Error: API key missing", err: &mockExitError{code: 1}}
	tp := newTestPipeline(t, runner)

	_, err := tp.Run(context.Background(), InvocationRequest{
		Operation:        OpEdit,
		Prompt:           "p",
		Image:            srv.URL + "/cat.jpg",
		AdditionalImages: []string{srv.URL + "/dog.png"},
	})
	pe := requireProcessKind(t, err, ExecutionFailed)
	if !strings.Contains(pe.Stderr, "API key missing") {
		t.Errorf("expected captured diagnostics, got %q", pe.Stderr)
	}
	if len(tp.downloads.paths) != 2 {
		t.Fatalf("expected two downloads, got %d", len(tp.downloads.paths))
	}
	tp.requireNoTempFiles(t)
}

// =============================================================================
// Validation, missing output, viewer
// =============================================================================

func TestPipeline_Run_WhenRequestInvalid_ShouldFailWithoutRunning(t *testing.T) {
	cases := []InvocationRequest{
		{Prompt: ""},
		{Operation: OpEdit, Prompt: "p"},
		{Operation: OpGenerate, Prompt: "p", Image: "/a.png"},
		{Operation: OpGenerate, Prompt: "p", AdditionalImages: []string{"/a.png"}},
		{Operation: "upscale", Prompt: "p"},
	}
	for _, req := range cases {
		runner := &fakeRunner{}
		tp := newTestPipeline(t, runner)
		_, err := tp.Run(context.Background(), req)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%+v: expected ErrInvalidRequest, got %v", req, err)
		}
		if runner.callCount() != 0 {
			t.Errorf("%+v: runner must not be called", req)
		}
	}
}

func TestPipeline_Run_WhenExitZeroButNoFile_ShouldFailMissingOutput(t *testing.T) {
	runner := &fakeRunner{}
	tp := newTestPipeline(t, runner)
	_, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p"})
	requireProcessKind(t, err, MissingOutput)
}

func TestPipeline_Run_WhenAutoOpenRequested_ShouldOpenResult(t *testing.T) {
	viewer := &spyViewer{}
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner, WithViewer(viewer))
	open := true

	res, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p", AutoOpen: &open})
	if err != nil {
		t.Fatal(err)
	}
	if len(viewer.opened) != 1 || viewer.opened[0] != res.Path {
		t.Errorf("expected viewer to open %q, got %v", res.Path, viewer.opened)
	}
}

func TestPipeline_Run_WhenAutoOpenDisabledPerCall_ShouldOverrideDefault(t *testing.T) {
	viewer := &spyViewer{}
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner, WithViewer(viewer), WithAutoOpen(true))
	closed := false

	if _, err := tp.Run(context.Background(), InvocationRequest{Prompt: "p", AutoOpen: &closed}); err != nil {
		t.Fatal(err)
	}
	if len(viewer.opened) != 0 {
		t.Errorf("expected no viewer, got %v", viewer.opened)
	}
}

func TestPipeline_Run_ConcurrentCalls_ShouldNotShareTempFiles(t *testing.T) {
	srv := newImageServer(t)
	runner := &fakeRunner{writeOutput: true}
	tp := newTestPipeline(t, runner)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := tp.Run(context.Background(), InvocationRequest{Operation: OpEdit, Prompt: "p", Image: srv.URL + "/cat.jpg"})
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	requireEmptyDir(t, tp.tempDir)
}
