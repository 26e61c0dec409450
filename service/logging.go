package service

import (
	"context"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var sensitiveKeyParts = []string{"token", "cookie", "secret", "password", "passphrase", "authorization", "share"}

// RedactingHandler replaces the value of any attribute whose key names a
// credential, so token and password material never reaches the log sink.
type RedactingHandler struct {
	next slog.Handler
}

// WrapHandler returns next wrapped in a RedactingHandler.
func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &RedactingHandler{next: next}
}

// Enabled defers to the wrapped handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle redacts the record attributes and passes the record on.
func (h *RedactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(RedactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs redacts attrs before handing them to the wrapped handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		redacted = append(redacted, RedactAttr(attr))
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted)}
}

// WithGroup returns a redacting handler for the named group.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name)}
}

// RedactAttr redacts attr, descending into groups.
func RedactAttr(attr slog.Attr) slog.Attr {
	if isSensitiveKey(strings.ToLower(strings.TrimSpace(attr.Key))) {
		return slog.String(attr.Key, redactedValue)
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		redacted := make([]any, 0, len(group))
		for _, a := range group {
			redacted = append(redacted, RedactAttr(a))
		}
		return slog.Group(attr.Key, redacted...)
	}
	return attr
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}
