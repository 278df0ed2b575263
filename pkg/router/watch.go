package router

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zen-systems/enginegate/pkg/config"
)

const reloadDebounce = 100 * time.Millisecond

// WatchRules reloads the rule file into r whenever it changes, until ctx is
// done. Tables that fail validation are logged and ignored.
func WatchRules(ctx context.Context, path string, r *Router) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		target := filepath.Clean(path)
		var timer *time.Timer
		var fire <-chan time.Time

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
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				reloadRules(path, r)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[watch] %v", err)
			}
		}
	}()

	return nil
}

func reloadRules(path string, r *Router) {
	table, err := config.LoadRuleTable(path)
	if err != nil {
		log.Printf("[watch] reload %s: %v", path, err)
		return
	}
	if err := r.Reload(table); err != nil {
		log.Printf("[watch] keeping previous rules: %v", err)
		return
	}
	log.Printf("[watch] reloaded rules from %s", path)
}
