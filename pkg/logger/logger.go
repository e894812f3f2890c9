// Package logger builds the process slog logger and threads request-scoped
// attributes (request id, item id) through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type attrsKey struct{}

// ParseLevel accepts debug, info, warn and error in any case. An empty level
// means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", level)
}

// New returns a logger writing to w in format "json" or "text".
func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Setup installs New(w, level, format) as the slog default.
func Setup(w io.Writer, level, format string) error {
	l, err := New(w, level, format)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	return nil
}

// With returns a context whose FromContext logger carries args in addition
// to any attributes already in ctx.
func With(ctx context.Context, args ...any) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]any)
	attrs := make([]any, 0, len(prev)+len(args))
	attrs = append(attrs, prev...)
	attrs = append(attrs, args...)
	return context.WithValue(ctx, attrsKey{}, attrs)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return With(ctx, "request_id", id)
}

// RequestID returns the request id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	attrs, _ := ctx.Value(attrsKey{}).([]any)
	for i := len(attrs) - 2; i >= 0; i -= 2 {
		if k, ok := attrs[i].(string); ok && k == "request_id" {
			id, _ := attrs[i+1].(string)
			return id
		}
	}
	return ""
}

// FromContext returns the default logger with the attributes of ctx.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if attrs, _ := ctx.Value(attrsKey{}).([]any); len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
