package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog.
// LOG_LEVEL=debug enables debug output; anything else logs at info.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
