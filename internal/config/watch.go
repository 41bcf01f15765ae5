package config

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the deck config whenever its file changes on disk and then
// calls onChange. Editors replace files rather than rewriting them, so the
// watch is on the parent directory and events are debounced. Watch blocks
// until ctx is cancelled.
func (s *DeckStore) Watch(ctx context.Context, logger *log.Logger, onChange func()) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(s.path)

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
			}
			debounce.Reset(watchDebounce)
			pending = true
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("deck watch: %v", err)
		case <-debounce.C:
			pending = false
			if err := s.Reload(); err != nil {
				logger.Printf("deck reload: %v", err)
				continue
			}
			logger.Printf("deck config changed, pushing to clients")
			if onChange != nil {
				onChange()
			}
		}
	}
}
