package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands validated
// configs to the apply callback. Invalid configs are reported and
// skipped; the running config stays in effect.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Config)
	report  func(error)
}

// NewWatcher builds a watcher for path. apply receives each
// successfully loaded config; report receives load failures.
func NewWatcher(path string, apply func(*Config), report func(error)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	return &Watcher{watcher: w, path: path, apply: apply, report: report}, nil
}

// Run blocks until ctx is cancelled. Writes are debounced so editors
// that write in multiple events trigger a single reload.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cfg, err := Load(w.path)
					if err != nil {
						w.report(err)
						return
					}
					w.apply(cfg)
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.report(fmt.Errorf("config: watcher: %w", err))
		}
	}
}
