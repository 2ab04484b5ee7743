package logging

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeyPatterns lists substrings that indicate a log attribute key holds a secret value.
// Values logged under these keys will be fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"psk",
	"private_key",
	"credential",
	"session_key",
}

// keyHexPattern matches hex strings of 64 or more characters. Pre-shared keys
// and derived session keys render as 64 hex chars; session ids and nonces are
// 32 and never match.
var keyHexPattern = regexp.MustCompile(`\b[0-9a-fA-F]{64,}\b`)

// RedactingHandler wraps an slog.Handler and redacts sensitive values before they
// are passed to the inner handler.
type RedactingHandler struct {
	inner slog.Handler
}

// NewRedactingHandler creates a RedactingHandler that wraps the given inner handler.
func NewRedactingHandler(inner slog.Handler) *RedactingHandler {
	return &RedactingHandler{inner: inner}
}

// Enabled reports whether the inner handler handles records at the given level.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts sensitive attribute values and forwards the record to the inner handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	// Build a new set of attributes with redacted values
	var redacted []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		redacted = append(redacted, redactAttr(a))
		return true
	})

	// Create a clean record with the same metadata
	newRecord := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	newRecord.AddAttrs(redacted...)

	return h.inner.Handle(ctx, newRecord)
}

// WithAttrs returns a new handler with the given attributes redacted.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted)}
}

// WithGroup returns a new handler with the given group name.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name)}
}

// redactAttr returns a copy of the attribute with its value redacted if necessary.
func redactAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)

	// Check if the key name itself indicates sensitive data.
	// Special-case: keys naming where a secret lives rather than the secret
	// itself (e.g. "psk_file", "key_path") hold filesystem locations, so the
	// key-based rule skips them. The value scan below still applies.
	if !strings.Contains(key, "file") && !strings.Contains(key, "path") {
		for _, pattern := range sensitiveKeyPatterns {
			if strings.Contains(key, pattern) {
				return slog.String(a.Key, "[REDACTED]")
			}
		}
	}

	// For string values, scan and redact known secret patterns inline.
	if a.Value.Kind() == slog.KindString {
		val := a.Value.String()
		redacted := redactString(val)
		if redacted != val {
			return slog.String(a.Key, redacted)
		}
	}

	return a
}

// redactString scans a string value and replaces hex material long enough to
// be key-sized. The first 8 characters stay visible so operators can still
// correlate a key across log lines.
func redactString(val string) string {
	return keyHexPattern.ReplaceAllStringFunc(val, func(match string) string {
		return match[:8] + "...[REDACTED]"
	})
}

// EnableRedaction wraps the current global logger with a RedactingHandler.
// After calling this, all log output through the global logging functions
// will have sensitive values automatically redacted.
func EnableRedaction() {
	mu.Lock()
	defer mu.Unlock()

	handler := defaultLogger.Handler()

	// Avoid double-wrapping if already a RedactingHandler
	if _, ok := handler.(*RedactingHandler); ok {
		return
	}

	redacting := NewRedactingHandler(handler)
	defaultLogger = slog.New(redacting)
}

// NewRedactingLogger creates a new slog.Logger with redaction enabled.
func NewRedactingLogger(inner slog.Handler) *slog.Logger {
	return slog.New(NewRedactingHandler(inner))
}
