// Package logger builds the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values mean info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New creates a JSON logger writing to w
func New(w io.Writer, levelStr string) *slog.Logger {
	level, ok := ParseLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	l := slog.New(slog.NewJSONHandler(w, opts))
	if !ok {
		l.Warn("invalid LOG_LEVEL, defaulting to INFO", "configured_level", levelStr)
	}
	return l
}

// Init builds the stdout logger and installs it as the slog default
func Init(levelStr string) *slog.Logger {
	l := New(os.Stdout, levelStr)
	slog.SetDefault(l)
	return l
}
