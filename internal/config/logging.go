package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// DefaultLevel is the level used with no -v/-q flags and no LOG_LEVEL.
const DefaultLevel = slog.LevelWarn

// ParseLevel maps debug, info, warn or error to an slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// Verbosity shifts base one level down per -v and one level up per -q,
// clamped to DEBUG..ERROR.
func Verbosity(base slog.Level, verbose, quiet int) slog.Level {
	l := base + slog.Level(4*(quiet-verbose))
	return min(max(l, slog.LevelDebug), slog.LevelError)
}

// SetupLogging builds a text or JSON logger writing to w and installs it as
// the slog default.
func SetupLogging(level slog.Level, format string, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
