package templates

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veldrane/eidolon/internal/store"
)

// Watch starts an fsnotify watcher on the template directory and re-syncs
// the store whenever a definition file changes, until ctx is cancelled.
// Bursts of events (editor save dances, bulk copies) are debounced into a
// single sync pass.
func Watch(ctx context.Context, st store.Store, dir string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("templates: watcher started", slog.String("dir", dir))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleSync()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("templates: watcher error", slog.String("error", err.Error()))

		case <-syncCh:
			if err := Sync(st, dir, logger); err != nil {
				logger.Warn("templates: sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func isTemplateFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
