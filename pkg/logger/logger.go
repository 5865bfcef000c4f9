package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New creates a JSON structured logger that writes to stdout. LOG_LEVEL=debug
// turns on debug output.
func New() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}
