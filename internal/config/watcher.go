package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes and hands the result to
// an apply callback. Only runtime-tunable values should be applied; the
// callback decides which.
type Watcher struct {
	path  string
	apply func(Config)
}

func NewWatcher(path string, apply func(Config)) *Watcher {
	return &Watcher{path: path, apply: apply}
}

// Start watches the config file until ctx is cancelled. Falls back to
// doing nothing when the watch cannot be established.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WARN] config watcher unavailable: %v", err)
		return
	}
	if err := watcher.Add(w.path); err != nil {
		log.Printf("[WARN] cannot watch config file %s: %v", w.path, err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					log.Printf("[INFO] config file changed, reloading")
					// Editors often write in two steps; let the file settle.
					time.Sleep(100 * time.Millisecond)
					w.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] config watcher error: %v", err)
			}
		}
	}()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[ERROR] config reload failed, keeping previous settings: %v", err)
		return
	}
	w.apply(cfg)
}
