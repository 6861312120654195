// Package watch reports changes to highlight documents written under a
// storage root, including those written by another process.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/conorfennell/knolmark/internal/storage"
)

// Highlights watches <root>/highlights and calls onChange with the
// document key (the path hash) of every highlight file that is created or
// written. It blocks until ctx is cancelled.
func Highlights(ctx context.Context, root string, logger *slog.Logger, onChange func(key string)) error {
	dir := filepath.Join(root, storage.HighlightsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("Watching highlights", "dir", dir)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			key, ok := KeyOf(event.Name)
			if !ok {
				continue
			}
			logger.Debug("Highlight file changed", "key", key, "op", event.Op.String())
			onChange(key)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

// KeyOf extracts the document key from a highlight file name. Temporary
// files left by atomic writes are ignored.
func KeyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	key, ok := strings.CutSuffix(base, ".json")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
