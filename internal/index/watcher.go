package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/helmsman/internal/cache"
)

// EventCallback is called after a watcher-driven index change.
// kind is "indexed" or "removed".
type EventCallback func(kind string, path string)

// debounce groups the burst of events one cache write produces (temp file,
// rename, sidecar) into a single sync pass.
const debounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the cache directory and re-syncs the
// index whenever an entry's sidecar is written or removed. It runs until
// ctx is cancelled and calls cb (if non-nil) for each indexed or removed
// document.
func Watch(ctx context.Context, db *DB, c *cache.Cache, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(c.Dir()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", c.Dir()))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(debounce)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			report, err := Sync(db, c, logger)
			if err != nil {
				logger.Warn("watcher: sync failed", slog.String("error", err.Error()))
				continue
			}
			if cb == nil {
				continue
			}
			for _, p := range report.Indexed {
				cb("indexed", p)
			}
			for _, p := range report.Removed {
				cb("removed", p)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, cache.MetaSuffix) {
				// Data files change together with their sidecar; removal
				// of a data file alone still orphans the entry.
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 || strings.HasPrefix(name, ".") {
					continue
				}
			}
			logger.Debug("watcher: cache changed", slog.String("file", name), slog.String("op", ev.Op.String()))
			scheduleSync()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
