// Package watcher re-runs a callback when watched files change.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/withobsrvr/streamctl/internal/utils/logger"
)

// DefaultDebounce collapses the burst of events a single save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches a set of files for changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	files    map[string]bool
	debounce time.Duration
	log      *zap.Logger
}

// New watches paths. The parent directories are watched rather than the
// files themselves so editors that save by renaming keep triggering events.
func New(debounce time.Duration, paths ...string) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		files:    make(map[string]bool, len(paths)),
		debounce: debounce,
		log:      logger.Named("watcher"),
	}
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	return w, nil
}

// Run calls fn after each debounced change until ctx is done. Calls never
// overlap; changes made while fn runs trigger one more call afterwards. A
// failing fn is logged and watching continues.
func (w *Watcher) Run(ctx context.Context, fn func(ctx context.Context, changed string) error) error {
	w.log.Info("Watching for changes", zap.Int("files", len(w.files)))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("File changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			pending = event.Name
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("File watcher error", zap.Error(err))

		case <-timer.C:
			changed := pending
			pending = ""
			if err := fn(ctx, changed); err != nil {
				w.log.Error("Failed to handle file change", zap.String("file", changed), zap.Error(err))
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	return err == nil && w.files[abs]
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
