package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 500 * time.Millisecond

// PendingSyncer sends approval requests for pending posts that have none yet.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}

// Watcher notices when the queue file is written by another process (content generator, CLI)
// and asks the relay to catch up on new pending posts.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	recheck  time.Duration
	syncer   PendingSyncer
	logger   *slog.Logger
}

// New watches the directory holding path. Atomic writes replace the file, so the file
// itself cannot be watched.
func New(path string, debounce time.Duration, syncer PendingSyncer, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		fs:       fsWatcher,
		path:     abs,
		debounce: debounce,
		syncer:   syncer,
		logger:   logger.With("component", "queue_watcher", "path", abs),
	}, nil
}

// Run processes file events until ctx is done. A burst of writes results in one sync
// once the file has been quiet for the debounce interval.
func (w *Watcher) Run(ctx context.Context) error {
	var fire, recheck <-chan time.Time
	if w.recheck > 0 {
		recheck = time.After(w.recheck)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.relevant(event) {
				fire = time.After(w.debounce)
			}
		case <-fire:
			fire = nil
			w.sync(ctx)
			if w.recheck > 0 {
				recheck = time.After(w.recheck)
			}
		case <-recheck:
			recheck = nil
			w.sync(ctx)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.ErrorContext(ctx, "Watcher error", "error", err)
		}
	}
}

// RecheckAfter schedules one more sync d after every event-driven sync, and one d after
// Run starts. It picks up posts the syncer skipped as too young.
func (w *Watcher) RecheckAfter(d time.Duration) {
	w.recheck = d
}

func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

func (w *Watcher) sync(ctx context.Context) {
	n, err := w.syncer.SyncPending(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to sync pending posts", "error", err, "sent", n)
		return
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "Queue file changed, approval requests sent", "sent", n)
	}
}
