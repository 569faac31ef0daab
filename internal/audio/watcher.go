package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches the background sound file and reloads it when it is rewritten.
type Watcher struct {
	logger *slog.Logger
	path   string
	reload func() error

	// Editors and copy tools emit bursts of events; reload once they settle.
	debounce time.Duration
}

// NewWatcher creates a watcher that calls reload after path changes.
func NewWatcher(path string, reload func() error, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		logger:   logger,
		path:     expandPath(path),
		reload:   reload,
		debounce: 250 * time.Millisecond,
	}
}

// SetDebounce sets how long the file must be quiet before reloading.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is done. It returns an error only if the watch
// cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create sound watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	// Watch the directory containing the file (more reliable for writes)
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Debug("sound watcher started", "path", w.path)

	filename := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("sound watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}

			// Only care about our file
			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("sound watcher error", "error", err)

		case <-timer.C:
			w.logger.Debug("sound file changed, reloading", "path", w.path)
			if err := w.reload(); err != nil {
				w.logger.Warn("failed to reload sound", "path", w.path, "error", err)
			}
		}
	}
}
