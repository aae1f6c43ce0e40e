package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forgo/authcode/internal/misc"
	"github.com/forgo/authcode/internal/util"
)

// FileBackend stores one scope as a JSON object in <dir>/<scope>.json. Writes go
// through a temporary file and a rename so readers in other processes never see
// a partial document.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend prepares dir (default: the user config directory) for scope.
func NewFileBackend(dir string, scope Scope) (*FileBackend, error) {
	resolved, err := util.ResolveAuthDir(strings.TrimSpace(dir))
	if err != nil {
		return nil, fmt.Errorf("session file: %w", err)
	}
	if resolved == "" {
		resolved = util.DefaultAuthDir()
	}
	if err = os.MkdirAll(resolved, 0o700); err != nil {
		return nil, fmt.Errorf("session file: create dir failed: %w", err)
	}
	return &FileBackend{path: filepath.Join(resolved, string(scope)+".json")}, nil
}

// Path returns the file backing this scope.
func (f *FileBackend) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

func (f *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

func (f *FileBackend) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	if current, ok := values[key]; ok && current == value {
		return nil
	}
	values[key] = value
	return f.store(values)
}

func (f *FileBackend) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.load()
	if err != nil {
		return err
	}
	changed := false
	for _, key := range keys {
		if _, ok := values[key]; ok {
			delete(values, key)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.store(values)
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) load() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("session file: read failed: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return values, nil
	}
	if err = json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("session file: decode %s: %w", f.path, err)
	}
	return values, nil
}

func (f *FileBackend) store(values map[string]string) error {
	raw, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("session file: encode failed: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("session file: create temp failed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if err = tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session file: chmod failed: %w", err)
	}
	if _, err = tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("session file: write failed: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("session file: close failed: %w", err)
	}
	if err = os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("session file: rename failed: %w", err)
	}
	misc.LogSavingCredentials(f.path)
	return nil
}
