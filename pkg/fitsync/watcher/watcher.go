// Package watcher reacts to new activity files appearing in source
// directories.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fitsync/fitsync/pkg/fitsync/logging"
)

// defaultDebounce is how long the watcher waits for a burst of events
// to settle before firing. Virtual-cycling apps write activity files
// in several chunks.
const defaultDebounce = 2 * time.Second

// Watcher watches source directories and coalesces filesystem events
// into single change notifications.
type Watcher struct {
	fsw      *fsnotify.Watcher
	paths    map[string]bool
	mu       sync.Mutex
	closed   bool
	debounce time.Duration
	log      *logging.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the settle window.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a watcher with no watched paths.
func New(opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		paths:    make(map[string]bool),
		debounce: defaultDebounce,
		log:      logging.Get("watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch starts watching a directory tree. Symlinks are not followed.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Lstat(absRoot)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return w.addWatch(path)
		}
		return nil
	})
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		w.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	w.paths[path] = true
	return nil
}

// Run blocks, delivering one onChange call per settled burst of
// relevant events, until the context is cancelled or the watcher is
// closed.
func (w *Watcher) Run(ctx context.Context, onChange func()) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			armed = false
			if onChange != nil {
				onChange()
			}

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.handleEvent(event) {
				continue
			}
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.debounce)
			armed = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

// handleEvent maintains directory watches and reports whether the
// event is relevant to activity syncing.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() && info.Mode()&fs.ModeSymlink == 0 {
			_ = w.addWatch(event.Name)
			return false
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	if !strings.EqualFold(filepath.Ext(event.Name), ".fit") {
		return false
	}

	w.log.Debug("activity file changed", "path", event.Name, "op", event.Op.String())
	return true
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.paths = make(map[string]bool)
	return w.fsw.Close()
}
