// Package watcher watches the file session backend and reports changes made by
// other processes sharing it. It supports cross-platform fsnotify event handling.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const (
	// replaceCheckDelay is a short delay to allow atomic replace (rename) to settle
	// before deciding whether a Remove event indicates a real deletion.
	replaceCheckDelay = 50 * time.Millisecond
	changeDebounce    = 150 * time.Millisecond
)

// ChangeFunc receives the path of a watched file whose content changed. It is
// called from the watcher's timer goroutine.
type ChangeFunc func(path string)

// Watcher manages file watching for session backend files.
type Watcher struct {
	files    map[string]struct{}
	dirs     []string
	onChange ChangeFunc
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu         sync.Mutex
	lastHashes map[string]string
	timers     map[string]*time.Timer
	stopped    bool
}

// NewWatcher creates a watcher for paths. The parent directories are watched
// so that atomic renames onto a path are observed.
func NewWatcher(paths []string, onChange ChangeFunc) (*Watcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("watcher: no paths to watch")
	}
	fsWatcher, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	w := &Watcher{
		files:      make(map[string]struct{}, len(paths)),
		onChange:   onChange,
		watcher:    fsWatcher,
		debounce:   changeDebounce,
		lastHashes: make(map[string]string),
		timers:     make(map[string]*time.Timer),
	}
	seenDirs := make(map[string]struct{})
	for _, p := range paths {
		normalized := normalizePath(p)
		if normalized == "" {
			continue
		}
		w.files[normalized] = struct{}{}
		dir := filepath.Dir(normalized)
		if _, ok := seenDirs[dir]; !ok {
			seenDirs[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
		if hash, errHash := hashFile(normalized); errHash == nil {
			w.lastHashes[normalized] = hash
		}
	}
	return w, nil
}

// Start begins watching until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.dirs {
		if errAdd := w.watcher.Add(dir); errAdd != nil {
			log.Errorf("failed to watch session directory %s: %v", dir, errAdd)
			return errAdd
		}
		log.Debugf("watching session directory: %s", dir)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
