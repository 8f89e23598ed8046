// Package logging builds the slog loggers of a run: the console logger, the
// per-sample tee into a debug log file, and the isolated per-unit logs.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// NewConsole returns a logger writing records at or above level to w, as
// JSON when format is "json" and as key=value text otherwise.
func NewConsole(w io.Writer, level slog.Level, format string) *slog.Logger {
	return slog.New(consoleHandler(w, level, format))
}

func consoleHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps a level name onto a slog.Level. It accepts everything
// slog.Level.UnmarshalText does, such as "debug" or "info+2", plus "warning".
// Unknown names fall back to INFO.
func ParseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
