package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// CaptureHandler tees warn-and-above records into a bounded in-memory
// buffer while delegating everything to the wrapped handler. The
// captured lines become the run status log excerpt.
type CaptureHandler struct {
	inner slog.Handler
	store *captureStore
	attrs []slog.Attr
}

type captureStore struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func NewCaptureHandler(inner slog.Handler, maxLines int) *CaptureHandler {
	if maxLines <= 0 {
		maxLines = 100
	}
	return &CaptureHandler{inner: inner, store: &captureStore{max: maxLines}}
}

func (h *CaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CaptureHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		var b strings.Builder
		b.WriteString(record.Level.String())
		b.WriteString(" ")
		b.WriteString(record.Message)
		for _, attr := range h.attrs {
			fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
		}
		record.Attrs(func(attr slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
			return true
		})
		h.store.add(b.String())
	}
	return h.inner.Handle(ctx, record)
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CaptureHandler{
		inner: h.inner.WithAttrs(attrs),
		store: h.store,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	return &CaptureHandler{inner: h.inner.WithGroup(name), store: h.store, attrs: h.attrs}
}

// Lines returns the captured excerpt, oldest first.
func (h *CaptureHandler) Lines() []string {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return append([]string(nil), h.store.lines...)
}

func (s *captureStore) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) >= s.max {
		copy(s.lines, s.lines[1:])
		s.lines = s.lines[:len(s.lines)-1]
	}
	s.lines = append(s.lines, line)
}
