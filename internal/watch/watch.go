// Package watch observes uploaded input files on disk and invalidates
// derived artifacts when they change.
package watch

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Invalidator receives change notifications for watched files.
type Invalidator interface {
	FileChanged(path string)
}

// Watcher wraps an fsnotify watcher over the session's input files.
type Watcher struct {
	fs     *fsnotify.Watcher
	target Invalidator
	logger *zap.Logger

	mu      sync.Mutex
	watched map[string]bool
}

// New creates a watcher forwarding change events to target.
func New(target Invalidator, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		fs:      fs,
		target:  target,
		logger:  logger,
		watched: make(map[string]bool),
	}, nil
}

// Add registers files for change tracking. Already-watched files are
// skipped.
func (w *Watcher) Add(paths ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, path := range paths {
		if w.watched[path] {
			continue
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		w.watched[path] = true
	}
	return nil
}

// Run processes filesystem events until the context ends. Writes, removes,
// and renames of a watched file all count as a change: editors commonly
// replace files instead of writing in place.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			tracked := w.watched[event.Name]
			w.mu.Unlock()
			if !tracked {
				continue
			}
			w.logger.Debug("watched file changed",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			w.target.FileChanged(event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
