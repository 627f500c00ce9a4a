package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseLogLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InitSlog installs a text handler on stderr when LOG_LEVEL is set.
// LOG_FORMAT=json switches to the JSON handler.
func InitSlog() {
	logLevel, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return
	}
	opts := &slog.HandlerOptions{Level: ParseLogLevel(logLevel)}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
