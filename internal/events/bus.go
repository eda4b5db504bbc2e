// Package events is an in-process publish/subscribe bus for engine
// activity (hook verdicts, step transitions, pipeline status changes).
package events

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Event types published by the engine.
const (
	TypeHook             = "hook"
	TypeWorkflowActivate = "workflow.activated"
	TypeWorkflowEnd      = "workflow.ended"
	TypeStepTransition   = "step.transition"
	TypePipelinePrefix   = "pipeline."
	TypeReload           = "definitions.reloaded"
)

// Event is one engine notification.
type Event struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"session_id,omitempty"`
	Workflow    string         `json:"workflow,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Time        time.Time      `json:"time"`
}

// Filter selects events. Types entries ending in "." match by prefix.
// Empty fields match everything.
type Filter struct {
	Types     []string
	SessionID string
}

// Matches returns true if ev passes the filter.
func (f Filter) Matches(ev Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type || (strings.HasSuffix(t, ".") && strings.HasPrefix(ev.Type, t)) {
			return true
		}
	}
	return false
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	next   int
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.With("component", "event-bus"),
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters
// it and closes the channel.
func (b *Bus) Subscribe(f Filter, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{filter: f, ch: make(chan Event, buffer)}
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
}

// Publish delivers ev to every matching subscriber and returns how many
// received it.
func (b *Bus) Publish(ev Event) int {
	if b == nil {
		return 0
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.filter.Matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", ev.Type)
		}
	}
	return delivered
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
