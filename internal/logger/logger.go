// Package logger builds the single process-wide *slog.Logger for the
// server binary. The logger is constructed once in cmd/vt-server and
// threaded through every component constructor (PTYHost, Recorder, Hub,
// Registry, HTTP/WS transports) rather than read from a package-level
// global, so tests can substitute their own logger or discard output
// entirely.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// New builds a structured logger writing to stdout, and additionally to
// logFile if non-empty. level is one of "debug", "info", "warn", "error";
// anything else defaults to "info".
func New(level string, logFile string) (*slog.Logger, error) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
	})
	return slog.New(handler), nil
}
