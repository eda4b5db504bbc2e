// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is one captured record with its attributes flattened.
type LogEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture records every entry written through Logger.
type LogCapture struct {
	Logger *slog.Logger

	mu      sync.Mutex
	entries []LogEntry
}

// NewLogCapture returns a debug-level logger whose records can be inspected.
func NewLogCapture() *LogCapture {
	c := &LogCapture{}
	c.Logger = slog.New(&captureHandler{
		capture: c,
		next:    slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
	return c
}

// Entries returns a copy of the captured entries.
func (c *LogCapture) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.entries...)
}

// Find returns entries at level whose message contains substr.
func (c *LogCapture) Find(level slog.Level, substr string) []LogEntry {
	var out []LogEntry
	for _, e := range c.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

// WithAttr returns entries carrying key=value.
func (c *LogCapture) WithAttr(key string, value any) []LogEntry {
	var out []LogEntry
	for _, e := range c.Entries() {
		if v, ok := e.Attrs[key]; ok && v == value {
			out = append(out, e)
		}
	}
	return out
}

type captureHandler struct {
	capture *LogCapture
	next    slog.Handler
	attrs   []slog.Attr
	group   string
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{Level: r.Level, Message: r.Message, Attrs: make(map[string]any)}
	add := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		entry.Attrs[key] = a.Value.Any()
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	h.capture.mu.Lock()
	h.capture.entries = append(h.capture.entries, entry)
	h.capture.mu.Unlock()
	return h.next.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{
		capture: h.capture,
		next:    h.next.WithAttrs(attrs),
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
		group:   h.group,
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &captureHandler{capture: h.capture, next: h.next.WithGroup(name), attrs: h.attrs, group: group}
}
