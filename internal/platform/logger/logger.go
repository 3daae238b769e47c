// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"

	"warden/internal/platform/config"
)

// New returns a slog logger configured from LogConfig. Unknown levels fall
// back to info, unknown formats to JSON.
func New(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
