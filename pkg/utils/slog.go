package utils

import (
	"log/slog"
	"strings"
)

// ErrAttr returns a slog attribute for an error.
func ErrAttr(err error) slog.Attr {
	return slog.Any("error", err)
}

// SlogReplacer normalizes attribute keys across handlers.
func SlogReplacer(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		a.Key = "ts"
	}

	return a
}

// LogWriter adapts an io.Writer interface to a slog.Logger,
// for libraries that only accept a writer for their diagnostics.
type LogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a LogWriter that logs each written line at Info level.
func NewSlogWriter(logger *slog.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

// Write logs the given bytes as a message, trimming trailing newlines.
// Empty messages are dropped.
func (w *LogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.logger.Info(msg)
	}

	return len(p), nil
}
