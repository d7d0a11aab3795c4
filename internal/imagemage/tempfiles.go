package imagemage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// removeFunc deletes one file; tests may replace it to force removal errors.
var removeFunc = os.Remove

// TempFileRegistry tracks the files downloaded for one invocation and removes
// them exactly once. It belongs to a single request and is not safe for
// concurrent use.
type TempFileRegistry struct {
	paths    []string
	failures []error
	logger   *slog.Logger
}

// NewTempFileRegistry returns an empty registry. If logger is nil, slog.Default() is used.
func NewTempFileRegistry(logger *slog.Logger) *TempFileRegistry {
	return &TempFileRegistry{logger: logger}
}

func (t *TempFileRegistry) log() *slog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return slog.Default()
}

// Register takes ownership of img when it is Owned. Caller files are ignored.
func (t *TempFileRegistry) Register(img ResolvedImage) {
	if !img.Owned || img.Path == "" {
		return
	}
	t.paths = append(t.paths, img.Path)
}

// Len returns the number of files awaiting removal.
func (t *TempFileRegistry) Len() int { return len(t.paths) }

// CleanupAll removes every registered file in registration order. Removal
// failures are logged and recorded, never returned. A file that is already
// gone is not a failure; calling CleanupAll again does nothing.
func (t *TempFileRegistry) CleanupAll() {
	paths := t.paths
	t.paths = nil
	for _, p := range paths {
		err := removeFunc(p)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}
		t.failures = append(t.failures, fmt.Errorf("remove %s: %w", p, err))
		t.log().Warn("temp file cleanup failed", "path", p, "error", err)
	}
}

// Failures returns the removal errors recorded by CleanupAll.
func (t *TempFileRegistry) Failures() []error { return t.failures }
