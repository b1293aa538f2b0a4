package hub

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of writes from editors.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the settings file at path whenever it changes and
// reconciles the hub with the result. It returns once the watcher is
// installed; watching stops when ctx is done.
func (h *Hub) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	// Watch the directory so atomic replaces are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	go h.watchSettings(ctx, watcher, path)
	return nil
}

func (h *Hub) watchSettings(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	target := filepath.Clean(path)
	var timer *time.Timer
	var reload <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C
		case <-reload:
			reload = nil
			h.reloadSettings(ctx, path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (h *Hub) reloadSettings(ctx context.Context, path string) {
	servers, err := LoadSettings(path)
	if err != nil {
		// Keep the current connections until the file parses again.
		h.logger.Warn("reload settings failed", "path", path, "error", err)
		return
	}
	h.logger.Info("settings changed, reconciling", "path", path, "servers", len(servers))
	if err := h.UpdateConnections(ctx, servers); err != nil {
		h.logger.Warn("reconcile after settings change", "error", err)
	}
}
