// Package logging provides the leveled logger used throughout minipgw.
//
// It wraps log/slog the way the retrieval pack's session daemons do --
// JSON or text handler selected by the caller, a shared slog.LevelVar so
// the level can be changed after construction -- and adds a synthetic
// "fatal" level above Error, since spec.md's configuration names
// debug|info|warning|error|fatal as the five levels and slog ships four.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelFatal sits above slog.LevelError so fatal records are never filtered
// by a handler configured for "error" level.
const LevelFatal slog.Level = slog.LevelError + 4

// levelNames renders LevelFatal as "FATAL" in text/JSON output instead of
// the default "ERROR+4".
var levelNames = map[slog.Leveler]string{
	LevelFatal: "FATAL",
}

// ParseLevel maps a configuration log level string to an slog.Level.
// Recognized values: "debug", "info", "warning", "error", "fatal"
// (case-insensitive). Unknown values default to slog.LevelInfo.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "fatal":
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}

// Logger is the leveled logger used across minipgw components. Method names
// mirror spec.md section 1's "debug|info|warning|error|fatal" collaborator contract.
type Logger struct {
	sl *slog.Logger
}

// New creates a Logger writing to w in the given format ("json" or "text"),
// filtered by levelVar. levelVar may be shared across loggers so the level
// can be adjusted after construction (e.g. on config reload).
func New(w *os.File, format string, levelVar *slog.LevelVar) *Logger {
	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					if name, ok := levelNames[lvl]; ok {
						a.Value = slog.StringValue(name)
					}
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{sl: slog.New(handler)}
}

// With returns a Logger that always includes the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{sl: l.sl.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any)   { l.sl.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)    { l.sl.Info(msg, args...) }
func (l *Logger) Warning(msg string, args ...any) { l.sl.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any)   { l.sl.Error(msg, args...) }

// Fatal logs at LevelFatal. It does not itself terminate the process --
// callers that need process termination call os.Exit themselves after
// logging.
func (l *Logger) Fatal(msg string, args ...any) {
	l.sl.Log(context.Background(), LevelFatal, msg, args...)
}

// Fatalf logs a formatted message at LevelFatal.
func (l *Logger) Fatalf(format string, args ...any) {
	l.sl.Log(context.Background(), LevelFatal, fmt.Sprintf(format, args...))
}
