package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls onSwap every time the CURRENT pointer of a FileStore is
// replaced, until ctx is canceled. The directory is watched rather than the
// file itself because a swap renames a new file over the old one.
func Watch(ctx context.Context, store *FileStore, logger *slog.Logger, onSwap func()) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "artifact_watcher"))

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(store.Root()); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", store.Root(), err)
	}

	target := filepath.Clean(store.CurrentPath())
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				logger.DebugContext(ctx, "current generation changed", slog.String("op", ev.Op.String()))
				onSwap()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.WarnContext(ctx, "artifact watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
