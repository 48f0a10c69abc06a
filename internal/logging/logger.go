// Package logging builds the service's *slog.Logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/log"
)

// ParseLevel maps a configured level name to a slog.Level. Unknown names
// select slog.LevelInfo.
func ParseLevel(level string) slog.Level {
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

// New returns a logger writing to w at the given minimum level. Format
// "text" renders human-readable lines through charmbracelet/log; any other
// value selects JSON records.
func New(level, format string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)

	if format == "text" {
		handler := log.NewWithOptions(w, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
			Prefix:          "fileswatcher",
			Formatter:       log.TextFormatter,
			Level:           log.Level(lvl),
		})
		return slog.New(handler)
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
