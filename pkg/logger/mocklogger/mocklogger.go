package mocklogger

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Entry is one captured log call.
type Entry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]slog.Value
}

// MockHandler is a slog.Handler that records every log call.
type MockHandler struct {
	mu      *sync.Mutex
	entries *[]Entry
	attrs   []slog.Attr
}

// Enabled implements slog.Handler.
func (h *MockHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *MockHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]slog.Value, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = a.Value
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.entries = append(*h.entries, e)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *MockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &MockHandler{
		mu:      h.mu,
		entries: h.entries,
		attrs:   append(slices.Clone(h.attrs), attrs...),
	}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *MockHandler) WithGroup(_ string) slog.Handler {
	return h
}

// Entries returns a copy of everything logged so far.
func (h *MockHandler) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(*h.entries)
}

// Messages returns the logged messages at level or above.
func (h *MockHandler) Messages(level slog.Level) []string {
	var out []string
	for _, e := range h.Entries() {
		if e.Level >= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// NewMockLogger creates a logger backed by a fresh MockHandler.
func NewMockLogger() (*slog.Logger, *MockHandler) {
	handler := &MockHandler{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
	}
	return slog.New(handler), handler
}
