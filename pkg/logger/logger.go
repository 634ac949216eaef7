// Package logger provides the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// instance holds the global logger. Access goes through Get so that packages
// never observe a nil logger.
var instance *slog.Logger

// Init initializes the global logger with a JSON handler at the given level.
// Level accepts "debug", "info", "warn" or "error"; anything else maps to info.
func Init(level string) error {
	opts := slog.HandlerOptions{Level: parseLevel(level)}
	instance = slog.New(slog.NewJSONHandler(os.Stdout, &opts))
	return nil
}

// Get returns the global logger, initializing a default one if Init was never
// called.
func Get() *slog.Logger {
	if instance == nil {
		_ = Init("info")
	}
	return instance
}

// Sync flushes buffered entries when the handler supports it. Safe to call
// repeatedly.
func Sync() error {
	if instance == nil {
		return nil
	}
	if s, ok := instance.Handler().(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
