package lessonmanager

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// StartWatcher watches the lessons directory and mirrors file changes
// into the registry: new scripts load, edits reload (debounced),
// removals unload. It returns once the watcher goroutine is running;
// cancel ctx to stop it.
func (m *Manager) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating lesson watcher: %w", err)
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching lessons directory: %w", err)
	}

	m.watcherStarted.Store(true)
	m.watching.Store(true)
	go func() {
		defer watcher.Close()
		defer m.watching.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				m.handleFileEvent(ctx, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.WarnContext(ctx, "lesson watcher error",
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	m.logger.InfoContext(ctx, "watching lessons directory", slog.String("dir", m.dir))
	return nil
}

func (m *Manager) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	name := event.Name
	if skipFile(filepath.Base(name)) {
		return
	}
	id := lessonID(name)

	switch {
	case event.Op.Has(fsnotify.Create):
		m.logger.InfoContext(ctx, "new lesson script detected", slog.String("lesson_id", id))
		m.LoadFromFile(ctx, name)
	case event.Op.Has(fsnotify.Write):
		m.Reload(ctx, id)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		m.logger.InfoContext(ctx, "lesson script removed", slog.String("lesson_id", id))
		m.Unload(ctx, id)
	}
}
