// Package logging configures the process-wide structured logger used by
// every component of the sampler: master, workers, checkpoint store, and
// feedback reporter all pull their *slog.Logger from here rather than
// constructing their own handler.
package logging

import (
	"log/slog"
	"os"
)

// Setup installs a slog.Default logger at the given level ("debug", "info",
// "warn", "error") in either "json" or text format.
func Setup(level string, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// WithComponent returns a logger tagged with the given component name, the
// convention every package in this module follows for its package-level
// logger.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
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
