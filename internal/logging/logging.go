// Package logging builds the orchestrator's structured logger and owns
// secret redaction.
//
// Every record carries an ISO-8601 UTC timestamp, level, service name, and
// source site. Invocation identifiers (trace, correlation token, user) ride
// on the context.Context, never on package state, so concurrently executing
// commands cannot leak each other's identifiers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// New returns a JSON slog.Logger writing to w at the given level.
// Timestamps are normalised to UTC RFC 3339 with millisecond precision.
func New(w io.Writer, level, service string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: true,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
				}
			}
			return a
		},
	})
	return slog.New(&contextHandler{Handler: h}).With("service", service)
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
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

// Invocation carries the identifiers attached to log records for one
// logical unit of work.
type Invocation struct {
	TraceID          string
	CorrelationToken string
	UserID           string
}

type contextKey string

const keyInvocation contextKey = "invocation"

// WithInvocation returns a context carrying the given invocation
// identifiers. Records logged with this context include them automatically.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, keyInvocation, inv)
}

// ClearInvocation returns a context with no invocation identifiers. Use when
// a goroutine outlives the unit of work whose context it inherited.
func ClearInvocation(ctx context.Context) context.Context {
	return context.WithValue(ctx, keyInvocation, Invocation{})
}

// InvocationFromContext extracts the invocation identifiers, if any.
func InvocationFromContext(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(keyInvocation).(Invocation)
	return inv, ok && inv != Invocation{}
}

// contextHandler appends invocation identifiers from the context to every
// record before delegating to the wrapped handler.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if inv, ok := InvocationFromContext(ctx); ok {
		if inv.TraceID != "" {
			r.AddAttrs(slog.String("trace_id", inv.TraceID))
		}
		if inv.CorrelationToken != "" {
			r.AddAttrs(slog.String("correlation_token", inv.CorrelationToken))
		}
		if inv.UserID != "" {
			r.AddAttrs(slog.String("user_id", inv.UserID))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
