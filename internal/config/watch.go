package config

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"imagetool/internal/domain"
)

// reloadDebounce coalesces the burst of events an editor save produces.
var reloadDebounce = 200 * time.Millisecond

// newFSWatcher creates an fsnotify watcher; tests may replace it to inject errors.
var newFSWatcher = fsnotify.NewWatcher

// Watcher reloads a config file whenever it changes on disk and hands each
// config that loads and validates to a callback. Invalid edits are logged
// and skipped, so the last good config stays in effect.
type Watcher struct {
	path    string
	logger  *slog.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	running bool
}

// NewWatcher returns a watcher for path. A nil logger uses slog.Default.
func NewWatcher(path string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, logger: logger}
}

// Start begins watching. onReload runs on a separate goroutine, never
// concurrently with itself. Start must not be called twice without Stop.
func (w *Watcher) Start(onReload func(*domain.Config)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if onReload == nil {
		return errors.New("config watcher: callback must not be nil")
	}
	if w.running {
		return errors.New("config watcher: already started")
	}

	// Watch the directory: editors often replace the file by rename.
	fw, err := newFSWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}

	w.watcher = fw
	w.done = make(chan struct{})
	w.running = true
	go w.eventLoop(fw, w.done, onReload)
	return nil
}

// Stop ceases watching. Safe to call when not started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.done)
	w.running = false
	return w.watcher.Close()
}

func (w *Watcher) eventLoop(fw *fsnotify.Watcher, done <-chan struct{}, onReload func(*domain.Config)) {
	target := filepath.Base(w.path)
	fire := make(chan struct{}, 1)
	var timer *time.Timer

	for {
		select {
		case <-done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload skipped", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			onReload(cfg)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
