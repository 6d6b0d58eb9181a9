package confloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile calls onChange after path is written, created or renamed into
// place. Bursts of events within settle are coalesced into one call.
// It blocks until ctx is done.
func WatchFile(ctx context.Context, path string, settle time.Duration, logger *slog.Logger, onChange func()) error {
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	// The directory, not the file: editors save by rename.
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(path)
	logger.Debug("watching configuration file", "path", path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.After(settle)
			}

		case <-pending:
			pending = nil
			logger.Info("configuration file changed", "path", path)
			onChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("configuration watcher error", "error", err)
		}
	}
}
