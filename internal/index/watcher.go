package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/dagaz/internal/vault"
)

// watchDebounce batches rapid external edits into one reconcile pass.
const watchDebounce = 300 * time.Millisecond

// Watch observes the vault root with fsnotify and reconciles the ledger
// and search store after external note edits, until ctx is cancelled.
// cb (if non-nil) runs after each successful reconcile.
//
// The pipeline's own writes also land here; reconciling after them is
// redundant but harmless, and keeping one code path means a note edited
// by hand in the vault behaves exactly like a processed one.
func Watch(ctx context.Context, e *Engine, logger *slog.Logger, cb func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := e.store.Root()
	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(watchDebounce)
			debounceCh = debounce.C
		} else {
			debounce.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-debounceCh:
			if err := e.Reconcile(); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
				continue
			}
			if cb != nil {
				cb()
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			// New directories join the watch list.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					schedule()
					continue
				}
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			// Only note files under the taxonomy folders matter; scan
			// images, sidecars, and our own system files do not.
			if !strings.HasSuffix(rel, ".md") || !vault.NoteFolder(rel) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Debug("watcher: note changed",
					slog.String("path", rel), slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
