package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/portcullis/portcullis/internal/logging"
	"github.com/portcullis/portcullis/internal/util"
)

// debounceWindow collapses the burst of filesystem events an editor fires per
// save into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watch reloads the daemon configuration whenever the file at path is written
// or recreated, invoking fn with each successfully loaded config. A reload
// that fails validation is logged and skipped, keeping the previous
// configuration live. The watch stops when ctx is cancelled; the returned
// channel closes once the watcher has fully shut down.
func Watch(ctx context.Context, path string, fn func(*ServerConfig)) (<-chan struct{}, error) {
	path = filepath.Clean(expandPath(path))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory rather than the file: editors replace the file on
	// save, which would otherwise drop the watch
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	util.SafeGoWithName("config-watcher", func() {
		defer close(done)
		defer watcher.Close()

		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					pending = time.After(debounceWindow)
				}

			case <-pending:
				pending = nil
				cfg, err := LoadServer(path)
				if err != nil {
					logging.Warn("config reload failed; keeping previous configuration",
						"path", path,
						logging.Err(err),
						logging.Component("config"))
					continue
				}
				logging.Info("config reloaded",
					"path", path,
					logging.Component("config"))
				fn(cfg)

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Ignore errors, continue watching
			}
		}
	})

	return done, nil
}
