package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the directory must stay quiet before a change
// notification fires. CCD writers stream one file per exposure; debouncing
// coalesces a burst of frames into a single reload.
const DefaultDebounce = 500 * time.Millisecond

// Watch blocks until the context ends, invoking fn each time the directory
// has been quiet for the debounce interval after a frame file changed.
func (l *Loader) Watch(ctx context.Context, dir string, debounce time.Duration, fn func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("loader: watch: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("loader: watch %s: %w", dir, err)
	}

	var mu sync.Mutex
	var pending *time.Timer
	defer func() {
		mu.Lock()
		if pending != nil {
			pending.Stop()
		}
		mu.Unlock()
	}()

	l.log.Info().Str("dir", dir).Str("pattern", l.opts.Pattern).Msg("watching data directory")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if match, _ := filepath.Match(l.opts.Pattern, filepath.Base(event.Name)); !match {
				continue
			}
			mu.Lock()
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounce, fn)
			mu.Unlock()
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn().Err(werr).Msg("frame watcher error")
		}
	}
}
