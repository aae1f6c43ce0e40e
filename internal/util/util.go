// Package util provides small helpers shared by the session manager: path
// resolution, secret masking for logs, and outbound proxy setup.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveAuthDir normalizes a storage directory path. It expands a leading tilde (~)
// to the user's home directory and returns a cleaned path.
func ResolveAuthDir(authDir string) (string, error) {
	if authDir == "" {
		return "", nil
	}
	if strings.HasPrefix(authDir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve auth dir: %w", err)
		}
		remainder := strings.TrimPrefix(authDir, "~")
		remainder = strings.TrimLeft(remainder, "/\\")
		if remainder == "" {
			return filepath.Clean(home), nil
		}
		normalized := strings.ReplaceAll(remainder, "\\", "/")
		return filepath.Clean(filepath.Join(home, filepath.FromSlash(normalized))), nil
	}
	return filepath.Clean(authDir), nil
}

// DefaultAuthDir is used by the file backend when no directory is configured.
func DefaultAuthDir() string {
	if base := WritablePath(); base != "" {
		return filepath.Join(base, "authcode")
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "authcode")
	}
	return filepath.Join(os.TempDir(), "authcode")
}

// WritablePath returns the cleaned WRITABLE_PATH environment value if set.
func WritablePath() string {
	for _, key := range []string{"WRITABLE_PATH", "writable_path"} {
		if value, ok := os.LookupEnv(key); ok {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return filepath.Clean(trimmed)
			}
		}
	}
	return ""
}
