package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger on stdout. LOG_LEVEL=debug enables debug records.
func New() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
