package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// logTimeFormat is fixed-width so stamps compare lexicographically.
const logTimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// defaultLogCap bounds the in-memory log feed.
const defaultLogCap = 1000

// LogRecord is one captured log line for the dashboard log feed.
type LogRecord struct {
	TS     string `json:"ts"`
	Level  string `json:"level"`
	Line   string `json:"line"`
	Source string `json:"source"`
}

// LogBuffer keeps the most recent log records in memory so the dashboard
// can poll them without tailing files.
type LogBuffer struct {
	mu   sync.Mutex
	recs []LogRecord
	cap  int
}

// NewLogBuffer returns a buffer holding the last 1000 records.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{cap: defaultLogCap}
}

func (b *LogBuffer) add(rec LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recs = append(b.recs, rec)
	if len(b.recs) > b.cap {
		b.recs = b.recs[len(b.recs)-b.cap:]
	}
}

// Records returns buffered records with stamps strictly after the given
// one. An empty after returns everything still buffered.
func (b *LogBuffer) Records(after string) []LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LogRecord, 0, len(b.recs))
	for _, rec := range b.recs {
		if after == "" || rec.TS > after {
			out = append(out, rec)
		}
	}
	return out
}

// Handler wraps inner so every record it handles is also captured in the
// buffer. Pass the result to slog.New to feed the dashboard log feed.
func (b *LogBuffer) Handler(inner slog.Handler) slog.Handler {
	return &captureHandler{inner: inner, buf: b}
}

type captureHandler struct {
	inner slog.Handler
	buf   *LogBuffer
	attrs string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, rec slog.Record) error {
	var sb strings.Builder
	sb.WriteString(rec.Message)
	sb.WriteString(h.attrs)
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
		return true
	})
	h.buf.add(LogRecord{
		TS:     rec.Time.UTC().Format(logTimeFormat),
		Level:  rec.Level.String(),
		Line:   fmt.Sprintf("%s | mailsift | %s", rec.Level, sb.String()),
		Source: "api",
	})
	return h.inner.Handle(ctx, rec)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		fmt.Fprintf(&sb, " %s=%v", a.Key, a.Value)
	}
	return &captureHandler{inner: h.inner.WithAttrs(attrs), buf: h.buf, attrs: sb.String()}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{inner: h.inner.WithGroup(name), buf: h.buf, attrs: h.attrs}
}
