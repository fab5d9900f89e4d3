package workerpool

import (
	"context"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches the manager's config file for external edits (an
// operator hand-editing worker_pool.json) and reloads it on change,
// grounded on internal/skills.Manager's fsnotify-based watch loop. It
// blocks until ctx is cancelled.
func (m *Manager) WatchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.configPath); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				m.mu.Lock()
				if err := m.load(); err != nil {
					m.logger.Warn("failed to reload worker pool config", "error", err)
				}
				m.mu.Unlock()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("worker pool config watch error", "error", err)
		}
	}
}
