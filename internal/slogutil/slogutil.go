package slogutil

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Format selects the diagnostic log layout.
type Format string

const (
	// HumanFormat is the TextHandler layout
	HumanFormat Format = "human"
	// JSONFormat is one JSON object per record
	JSONFormat Format = "json"
)

// LevelSilent is above every standard level.
const LevelSilent = slog.Level(100)

// New creates a logger writing records in the given format.
func New(w io.Writer, level slog.Level, format Format) *slog.Logger {
	if format == JSONFormat {
		return NewJSONLogger(w, level)
	}
	return NewLogger(w, level)
}

// NewLogger creates a new slog.Logger with the human format.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a logger emitting JSON records.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger creates a logger that discards all output.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelSilent}))
}

// LevelFromString converts a string to a slog.Level.
// Supports: debug, info, warn, error (case-insensitive).
// Returns slog.LevelInfo for unrecognized strings.
func LevelFromString(s string) slog.Level {
	level, _ := ParseLevel(s)
	return level
}

// ParseLevel is LevelFromString that reports unrecognized names.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case HumanFormat, JSONFormat:
		return f, nil
	case "":
		return HumanFormat, nil
	default:
		return HumanFormat, fmt.Errorf("unknown log format %q", s)
	}
}
