package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/verdanthq/cropsense/internal/logging"
	"github.com/verdanthq/cropsense/internal/tables"
)

// TableWatcher hot-reloads the agronomic table override file when it
// changes on disk, so threshold tuning does not require a restart.
type TableWatcher struct {
	path    string
	store   *tables.Store
	watcher *fsnotify.Watcher
	logger  *logging.Logger
}

// NewTableWatcher creates a watcher for the given override file.
func NewTableWatcher(path string, store *tables.Store, logger *logging.Logger) (*TableWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors typically replace the file on save,
	// which drops the watch on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &TableWatcher{
		path:    path,
		store:   store,
		watcher: w,
		logger:  logger,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (t *TableWatcher) Run(ctx context.Context) {
	defer t.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(t.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := t.store.ApplyOverride(t.path); err != nil {
				t.logger.Warn("table override reload failed", "path", t.path, "error", err)
				continue
			}
			t.logger.Info("agronomic tables reloaded", "path", t.path)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn("table watcher error", "error", err)
		}
	}
}
