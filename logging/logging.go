// Package logging holds the package-level logger used across datatree.
// It defaults to discarding all output, following hivekit's
// cmd/hiveexplorer/logger convention: library code never forces a logging
// backend on its caller.
package logging

import (
	"io"
	"log/slog"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Set installs l as the package-wide logger. Passing nil restores the
// discarding default.
func Set(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	current.Store(l)
}

// Get returns the active logger.
func Get() *slog.Logger {
	return current.Load()
}
