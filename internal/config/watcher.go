package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stlalpha/aetherlink/internal/logging"
)

// reloadDebounce coalesces bursts of writes (multiple fields saved in
// separate operations) into a single reload. Only Write and Create events
// on the watched path trigger a reload; a file replaced by a rename does
// not.
const reloadDebounce = 500 * time.Millisecond

// Watcher hot-reloads a Config's secret and MSSP fields whenever its
// backing file changes, without requiring a process restart.
type Watcher struct {
	path string
	cfg  *Config

	// OnReload, if set, runs after every successful reload. Used by
	// callers that keep their own copy of the secret (the session
	// registry stamps it onto every envelope it publishes) and need to
	// be told when Config's copy changed.
	OnReload func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path for changes, reloading cfg in place on
// each debounced write. Call Stop to release the underlying inotify/kqueue
// watch.
func WatchFile(path string, cfg *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		cfg:     cfg,
		watcher: fw,
		done:    make(chan struct{}),
	}
	logging.Info("config: watching %s for changes", path)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config: watcher error: %v", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	logging.Info("config: reloading %s", w.path)
	if err := w.cfg.reload(w.path); err != nil {
		logging.Error("config: reload failed: %v", err)
		return
	}
	logging.Info("config: reload complete")
	if w.OnReload != nil {
		w.OnReload()
	}
}

// Stop ends the watch loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	close(w.done)
	w.watcher.Close()
	w.watcher = nil
}
