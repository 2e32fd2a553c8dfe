package log

import (
	"context"
	"io"
	"log/slog"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// Output formats accepted by New.
const (
	FormatJSON  = "json"  // zerolog JSON lines
	FormatCloud = "cloud" // slog JSON with Cloud Logging attribute names
)

// New configures process-wide logging in the given format and returns the
// Logger that commands inject downstream. An empty format selects FormatJSON.
func New(format, loglevel string, w io.Writer) (Logger, error) {
	switch format {
	case "", FormatJSON:
		zl, err := SetupZerolog(loglevel, w)
		if err != nil {
			return nil, err
		}
		return zl, nil
	case FormatCloud:
		return SetupLogger(loglevel, w)
	default:
		return nil, mlerrors.NewValidationError("log_format", "must be json or cloud", format)
	}
}

// SetupLogger installs a JSON slog handler as the process default and returns it as a Logger.
// Attribute names follow the Cloud Logging format.
func SetupLogger(loglevel string, w io.Writer) (Logger, error) {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return nil, err
	}
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     slog.Level(level),
		// Replace attributes to convert to CloudLogging format.
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			case slog.SourceKey:
				attr = slog.Attr{Key: "logging.googleapis.com/sourceLocation", Value: attr.Value}
			}
			return attr
		},
	}
	handler := withStacktrace(slog.NewJSONHandler(w, &ops))
	l := slog.New(handler)
	slog.SetDefault(l)
	return &slogLogger{l: l}, nil
}

// NewSlogLogger adapts a slog.Handler to the Logger interface.
func NewSlogLogger(handler slog.Handler) Logger {
	return &slogLogger{l: slog.New(handler)}
}

type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, fields...) }
func (s *slogLogger) Info(msg string, fields ...any)  { s.l.Info(msg, fields...) }
func (s *slogLogger) Warn(msg string, fields ...any)  { s.l.Warn(msg, fields...) }
func (s *slogLogger) Error(msg string, fields ...any) { s.l.Error(msg, fields...) }

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(fields...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
