package misc

import (
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Separator used to visually group related log lines.
var credentialSeparator = strings.Repeat("-", 67)

// LogSavingCredentials emits a consistent log message when persisting session material.
func LogSavingCredentials(path string) {
	if path == "" {
		return
	}
	log.WithField("backend", "file").Debugf("saving session data to %s", filepath.Clean(path))
}

// LogCredentialSeparator adds a visual separator to group login processing logs.
func LogCredentialSeparator() {
	log.Debug(credentialSeparator)
}
