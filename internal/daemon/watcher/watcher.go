// Package watcher notifies the daemon when settings.yaml changes on disk so
// edits made by the CLI or a text editor take effect without a restart.
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opstray-io/opstray/internal/config"
	"github.com/opstray-io/opstray/pkg/logging"
)

// debounceDelay coalesces the burst of events an atomic save produces into
// one notification.
const debounceDelay = 200 * time.Millisecond

// Watcher watches the global config directory for settings changes.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	changes   chan string
	done      chan struct{}

	debounceMu sync.Mutex
	debounce   map[string]*time.Timer
}

// New creates a watcher; Start must be called before changes are delivered.
func New() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		changes:   make(chan string, 8),
		done:      make(chan struct{}),
	}, nil
}

// Changes delivers the path of the settings file each time it is rewritten.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Start begins watching ~/.opstray. The directory is watched rather than the
// file because atomic saves (write temp, rename over target) replace the
// inode a file watch would be pinned to.
func (w *Watcher) Start() error {
	dir, err := config.GlobalDir()
	if err != nil {
		return err
	}
	if err := config.EnsureGlobalDir(); err != nil {
		return err
	}
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}

	w.debounceMu.Lock()
	w.debounce = make(map[string]*time.Timer)
	w.debounceMu.Unlock()

	go w.loop()
	logging.Debug("Watcher", "watching %s", dir)
	return nil
}

// Stop stops the watcher and releases the inotify handle.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher", "fsnotify error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	// Rename covers the atomic-save pattern; Create covers the first save.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if filepath.Base(event.Name) != config.SettingsFileName {
		return
	}

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if timer, ok := w.debounce[event.Name]; ok {
		timer.Stop()
	}
	path := event.Name
	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounce, path)
		w.debounceMu.Unlock()

		select {
		case w.changes <- path:
		case <-w.done:
		}
	})
}
