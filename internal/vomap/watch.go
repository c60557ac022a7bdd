package vomap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 200 * time.Millisecond

// Source serves the current VO map snapshot and can reload it when the
// file changes. Snapshots are immutable Tables swapped atomically, so
// a collection cycle holding one never observes a half-applied reload.
type Source struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Table]
}

// NewSource loads the map at path once.
// Params: path map file location; logger for reload diagnostics.
// Returns: source holding the initial snapshot, or load error.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	table, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Source{path: path, logger: logger}
	s.current.Store(table)
	return s, nil
}

// Snapshot returns the current table.
// Params: none.
// Returns: immutable map snapshot.
func (s *Source) Snapshot() *Table {
	return s.current.Load()
}

// Watch reloads the map on file changes until ctx is cancelled. The
// parent directory is watched so atomic rename-in-place replacement is
// picked up; a failed reload keeps the previous snapshot.
// Params: ctx bounds the watch loop.
// Returns: watcher setup error, nil once the loop is running.
func (s *Source) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create VO map watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", dir, err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

// watchLoop applies debounced reloads for events touching the map file.
func (s *Source) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target, err := filepath.Abs(s.path)
	if err != nil {
		target = s.path
	}

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			reload = time.After(reloadDebounce)

		case <-reload:
			reload = nil
			table, err := Load(s.path)
			if err != nil {
				s.logger.Warn("VO map reload failed, keeping previous snapshot",
					slog.String("path", s.path),
					slog.String("error", err.Error()))
				continue
			}
			s.current.Store(table)
			s.logger.Info("VO map reloaded",
				slog.String("path", s.path),
				slog.Int("entries", table.Size()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("VO map watcher error", slog.String("error", err.Error()))
		}
	}
}
