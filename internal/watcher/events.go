// events.go implements fsnotify event handling for session backend files.
// It normalizes paths, debounces noisy events, and skips writes that leave the
// content unchanged.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case errWatch, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("file watcher error: %v", errWatch)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	ops := fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
	if event.Op&ops == 0 {
		return
	}
	normalized := normalizePath(event.Name)
	if _, ok := w.files[normalized]; !ok {
		// Temporary files from atomic writes and unrelated files land here.
		return
	}
	log.Debugf("file system event detected: %s %s", event.Op.String(), event.Name)
	w.schedule(normalized)
}

// schedule collapses bursts of events on path into a single check.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.checkChanged(path)
	})
}

func (w *Watcher) checkChanged(path string) {
	hash, err := hashFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Atomic replace on some platforms surfaces as Remove before the new file is ready.
		time.Sleep(replaceCheckDelay)
		hash, err = hashFile(path)
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		hash = ""
	case err != nil:
		log.Warnf("failed to read session file %s: %v", filepath.Base(path), err)
		return
	}

	w.mu.Lock()
	// A timer that fired before Stop may still get here.
	if w.stopped {
		w.mu.Unlock()
		return
	}
	prev, known := w.lastHashes[path]
	if (known && prev == hash) || (!known && hash == "") {
		w.mu.Unlock()
		log.Debugf("session file unchanged (hash match), skipping: %s", filepath.Base(path))
		return
	}
	if hash == "" {
		delete(w.lastHashes, path)
	} else {
		w.lastHashes[path] = hash
	}
	w.mu.Unlock()

	log.Infof("session file changed: %s", filepath.Base(path))
	if w.onChange != nil {
		w.onChange(path)
	}
}

// hashFile returns the content hash of path. An empty file hashes to "".
func hashFile(path string) (string, error) {
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		return "", errRead
	}
	if len(data) == 0 {
		return "", nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	cleaned := filepath.Clean(trimmed)
	if runtime.GOOS == "windows" {
		cleaned = strings.TrimPrefix(cleaned, `\\?\`)
		cleaned = strings.ToLower(cleaned)
	}
	return cleaned
}
