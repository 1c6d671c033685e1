// Package trigger decides when a merge pass runs: on a fixed interval or when
// a watched custom rule file changes. Both loops call fn synchronously, so two
// passes never overlap.
package trigger

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// DefaultDebounce is how long Watch waits after the last change event before
// running.
const DefaultDebounce = 500 * time.Millisecond

// Every calls fn once immediately and then every interval until ctx is done.
// A pass that outlasts the interval delays the next one instead of stacking.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("trigger interval must be positive, got %s", interval)
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(ctx)
		}
	}
}

// Watch calls fn whenever one of paths is written, created, removed or renamed.
// The parent directories are watched rather than the files themselves, so
// editors that save by renaming a temporary file are still seen. Events for
// other files in those directories are ignored. A burst of events arriving
// within debounce of each other produces a single call.
func Watch(ctx context.Context, paths []string, debounce time.Duration, fn func(context.Context), loggers ldlog.Loggers) error {
	if len(paths) == 0 {
		return fmt.Errorf("no files to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		loggers.Debugf("Watching directory %s", dir)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, watched) {
				continue
			}
			loggers.Debugf("Got file watcher event: %s", event)
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			loggers.Warnf("File watcher error: %s", err)

		case <-timer.C:
			loggers.Info("Custom rules changed, starting merge pass")
			fn(ctx)
		}
	}
}

func relevant(event fsnotify.Event, watched map[string]bool) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return watched[abs]
}
