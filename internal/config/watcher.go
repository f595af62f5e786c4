package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"justmemory/internal/logging"
)

// Watcher watches a single config file and calls back with the reloaded
// Config whenever it settles after a write. Rapid successive saves (an
// editor writing a temp file then renaming over the target, for instance)
// are debounced into one reload.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(*Config)
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching path in a background goroutine and returns a
// Watcher the caller must Stop when done. onChange is invoked with the
// freshly loaded Config after each settled write; load or validation
// errors are logged and the previous config keeps running.
func Watch(ctx context.Context, path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		path:     path,
		debounce: 300 * time.Millisecond,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

// Stop closes the underlying fsnotify watcher and waits for the event loop
// to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var pending bool
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			pending = true
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryBoot).Warn("config watcher: %v", err)
		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("config watcher: reload %s failed: %v", w.path, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		logging.Get(logging.CategoryBoot).Warn("config watcher: reloaded config at %s is invalid: %v", w.path, err)
		return
	}
	logging.Boot("config watcher: reloaded %s", w.path)
	w.onChange(cfg)
}
