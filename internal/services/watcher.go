package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/soochol/inflow/internal/inbound"
)

const defaultWatchDebounce = 200 * time.Millisecond

// DirectoryWatcher deploys the YAML process documents of a directory and
// keeps following it: changed files are deployed as new versions and
// removed files delete their process.
type DirectoryWatcher struct {
	dir      string
	defs     *DefinitionService
	debounce time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	deploys map[string]inbound.ProcessIdentity // file → process it declared
}

func NewDirectoryWatcher(dir string, defs *DefinitionService) *DirectoryWatcher {
	return &DirectoryWatcher{
		dir:      dir,
		defs:     defs,
		debounce: defaultWatchDebounce,
		timers:   make(map[string]*time.Timer),
		deploys:  make(map[string]inbound.ProcessIdentity),
	}
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *DirectoryWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run deploys every document found in the directory, then watches it until
// ctx is cancelled.
func (w *DirectoryWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	if err := w.LoadAll(ctx); err != nil {
		slog.Warn("watcher: initial load failed", "dir", w.dir, "err", err)
	}
	slog.Info("watcher: watching definitions", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDocumentFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.schedule(ctx, event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.remove(ctx, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher: error", "err", err)
		}
	}
}

// LoadAll deploys every document in the directory. Files that fail are
// logged and skipped.
func (w *DirectoryWatcher) LoadAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isDocumentFile(e.Name()) {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if err := w.deployFile(ctx, path); err != nil {
			slog.Warn("watcher: deploy failed", "file", path, "err", err)
		}
	}
	return nil
}

func (w *DirectoryWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if err := w.deployFile(ctx, path); err != nil {
			slog.Warn("watcher: deploy failed", "file", path, "err", err)
		}
	})
}

func (w *DirectoryWatcher) deployFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	def, err := w.defs.Deploy(ctx, data)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.deploys[path] = def.Identity
	w.mu.Unlock()
	return nil
}

func (w *DirectoryWatcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
	id, ok := w.deploys[path]
	delete(w.deploys, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	if err := w.defs.Delete(ctx, id); err != nil && !errors.Is(err, inbound.ErrNotFound) {
		slog.Warn("watcher: delete failed", "file", path, "process", id.String(), "err", err)
	}
}

func (w *DirectoryWatcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func isDocumentFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
