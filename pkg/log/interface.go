// Package log is the structured logging layer of the toolkit.
//
// Components accept a Logger and default to NopLogger; commands build the
// real one with New. Two backends exist: zerolog JSON lines (the default) and
// a log/slog JSON handler that renames attributes for Cloud Logging. Tests
// capture records with TestLogger.
//
//	logger := log.NewZerologLogger(os.Stderr, log.LevelInfo).With(log.RunIDKey, runID)
//	logger.Info("Model trained", log.SamplesKey, 800, log.FeaturesKey, 20)
//
// Field keys live in attributes.go. Errors go under ErrAttrKey so that the
// backends can attach the stack trace recorded by pkg/errors.
package log

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Logger takes alternating key/value fields, like slog.Logger.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// With returns a child that adds fields to every record.
	With(fields ...any) Logger

	Enabled(ctx context.Context, level Level) bool
}

// Level uses the slog.Level numbering.
type Level int

const (
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
)

var levelNames = map[Level]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel reads a LOG_LEVEL value. Case and surrounding space are ignored
// and the empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, errors.Newf("invalid log level: %q", s)
}

// NopLogger discards every record.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any)                {}
func (NopLogger) Info(string, ...any)                 {}
func (NopLogger) Warn(string, ...any)                 {}
func (NopLogger) Error(string, ...any)                {}
func (n NopLogger) With(...any) Logger                { return n }
func (NopLogger) Enabled(context.Context, Level) bool { return false }
