package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// stackHandler adds a stacktrace attribute to records that carry an error
// under ErrAttrKey, using the trace recorded by cockroachdb/errors.
type stackHandler struct {
	next slog.Handler
}

func withStacktrace(next slog.Handler) slog.Handler {
	return &stackHandler{next: next}
}

func (h *stackHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *stackHandler) Handle(ctx context.Context, r slog.Record) error {
	var trace string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != ErrAttrKey {
			return true
		}
		if err, ok := a.Value.Any().(error); ok {
			trace = stacktrace(err)
		}
		return false
	})
	if trace != "" {
		r.AddAttrs(slog.String(StacktraceAttrKey, trace))
	}
	return h.next.Handle(ctx, r)
}

func (h *stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return withStacktrace(h.next.WithAttrs(attrs))
}

func (h *stackHandler) WithGroup(name string) slog.Handler {
	return withStacktrace(h.next.WithGroup(name))
}

// stacktrace returns the reportable trace of err, or "" for errors created
// without one (fmt.Errorf, io.EOF, ...).
func stacktrace(err error) string {
	if details := errors.GetSafeDetails(err).SafeDetails; len(details) > 0 {
		return details[0]
	}
	if errors.GetReportableStackTrace(err) != nil {
		return fmt.Sprintf("%+v", err)
	}
	return ""
}
