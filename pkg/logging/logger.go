package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with application-specific functionality
type Logger struct {
	*slog.Logger
	ring *Ring
}

// ParseLevel maps a textual level onto slog; unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new logger with the specified level
func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a JSON logger writing to w.
func NewWithWriter(level string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}
	return &Logger{Logger: slog.New(slog.NewJSONHandler(w, opts))}
}

// NewWithRing creates a logger that also keeps the most recent records in
// memory so they can be served over HTTP.
func NewWithRing(level string, ring *Ring) *Logger {
	lvl := ParseLevel(level)
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	if ring == nil {
		return &Logger{Logger: slog.New(base)}
	}
	return &Logger{
		Logger: slog.New(newTeeHandler(base, ring, lvl)),
		ring:   ring,
	}
}

// Ring returns the in-memory record buffer, or nil when the logger has none.
func (l *Logger) Ring() *Ring {
	if l == nil {
		return nil
	}
	return l.ring
}

// Default returns a logger with default settings
func Default() *Logger {
	return New("info")
}
