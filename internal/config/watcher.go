package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceDelay is the default delay for debouncing file system events.
const DebounceDelay = 100 * time.Millisecond

// SettingsWatcher monitors the settings file for changes and notifies a
// callback with the freshly reloaded settings. Editors typically write via
// rename, so the watch is placed on the containing directory and events are
// filtered by file name.
//
// Thread-safety: all public methods are safe for concurrent use.
type SettingsWatcher struct {
	mu sync.Mutex

	// watcher is the underlying fsnotify watcher.
	watcher *fsnotify.Watcher

	// path is the settings file being watched.
	path string

	// onChange receives the reloaded settings after a debounced change.
	onChange func(*Settings)

	// debounceDelay is the delay before firing change events.
	debounceDelay time.Duration
	debounceTimer *time.Timer

	// logger for debugging.
	logger *slog.Logger

	// done signals the event loop to stop.
	done chan struct{}
	// stopped is closed when the event loop has exited.
	stopped chan struct{}
}

// NewSettingsWatcher creates a watcher for the settings file at path.
// Call Start() to begin watching and Close() when done.
func NewSettingsWatcher(path string, onChange func(*Settings), logger *slog.Logger) (*SettingsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	sw := &SettingsWatcher{
		watcher:       watcher,
		path:          absPath,
		onChange:      onChange,
		debounceDelay: DebounceDelay,
		logger:        logger,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	return sw, nil
}

// SetDebounceDelay sets the debounce delay for batching rapid changes.
// Must be called before Start().
func (sw *SettingsWatcher) SetDebounceDelay(d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.debounceDelay = d
}

// Start begins the event processing loop.
// This should be called once after creating the watcher.
func (sw *SettingsWatcher) Start() {
	go sw.eventLoop()
}

// Close stops the watcher and releases resources.
// After Close returns, no more change notifications are delivered.
func (sw *SettingsWatcher) Close() error {
	close(sw.done)
	err := sw.watcher.Close()
	<-sw.stopped // Wait for event loop to exit

	sw.mu.Lock()
	if sw.debounceTimer != nil {
		sw.debounceTimer.Stop()
	}
	sw.mu.Unlock()
	return err
}

// eventLoop processes fsnotify events and debounces notifications.
func (sw *SettingsWatcher) eventLoop() {
	defer close(sw.stopped)

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handleEvent(event)

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			if sw.logger != nil {
				sw.logger.Warn("settings watcher error", "error", err)
			}
		}
	}
}

// handleEvent processes a single fsnotify event.
func (sw *SettingsWatcher) handleEvent(event fsnotify.Event) {
	// Only care about the settings file itself
	if filepath.Clean(event.Name) != sw.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.debounceTimer != nil {
		sw.debounceTimer.Stop()
	}
	sw.debounceTimer = time.AfterFunc(sw.debounceDelay, sw.fireChange)
}

// fireChange reloads the settings file and notifies the callback.
func (sw *SettingsWatcher) fireChange() {
	select {
	case <-sw.done:
		return
	default:
	}

	settings, err := LoadFile(sw.path)
	if err != nil {
		if sw.logger != nil {
			sw.logger.Warn("failed to reload settings after change",
				"path", sw.path, "error", err)
		}
		return
	}

	if sw.logger != nil {
		sw.logger.Debug("settings file reloaded", "path", sw.path)
	}
	if sw.onChange != nil {
		sw.onChange(settings)
	}
}
