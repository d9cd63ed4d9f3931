package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for writes to settle.
const DefaultDebounce = 2 * time.Second

// Watch calls onChange whenever the file at path is created or rewritten,
// once writes have been quiet for debounce. It watches the parent directory
// so editors that replace the file by rename are seen. It returns when ctx
// ends. onChange errors are logged and do not stop the watch.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ingest: watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("ingest: watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching manifest", "path", target)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("manifest watcher", "err", err)
		case <-timer.C:
			logger.Info("manifest changed", "path", target)
			if err := onChange(ctx); err != nil {
				logger.Error("reindex failed", "err", err)
			}
		}
	}
}
