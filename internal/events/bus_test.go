package events

import (
	"testing"

	"github.com/gobby-stack/gobby/internal/logging"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{"empty matches all", Filter{}, Event{Type: "hook"}, true},
		{"exact type", Filter{Types: []string{"hook"}}, Event{Type: "hook"}, true},
		{"other type", Filter{Types: []string{"hook"}}, Event{Type: "step.transition"}, false},
		{"prefix", Filter{Types: []string{"pipeline."}}, Event{Type: "pipeline.completed"}, true},
		{"prefix needs dot", Filter{Types: []string{"pipeline"}}, Event{Type: "pipeline.completed"}, false},
		{"session", Filter{SessionID: "s1"}, Event{Type: "hook", SessionID: "s2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus(logging.NewForTest())

	hooks, cancelHooks := b.Subscribe(Filter{Types: []string{TypeHook}}, 1)
	all, cancelAll := b.Subscribe(Filter{}, 4)
	defer cancelAll()

	if n := b.Publish(Event{Type: TypeHook, SessionID: "s1"}); n != 2 {
		t.Errorf("delivered to %d, want 2", n)
	}
	if n := b.Publish(Event{Type: TypeHook}); n != 1 {
		t.Errorf("full subscriber should be skipped, delivered to %d", n)
	}

	ev := <-hooks
	if ev.SessionID != "s1" || ev.Time.IsZero() {
		t.Errorf("event = %+v", ev)
	}
	if len(all) != 2 {
		t.Errorf("catch-all buffered %d events", len(all))
	}

	cancelHooks()
	cancelHooks()
	if _, ok := <-hooks; ok {
		t.Error("channel not closed after cancel")
	}
	if b.Subscribers() != 1 {
		t.Errorf("subscribers = %d", b.Subscribers())
	}
}

func TestBus_NilPublish(t *testing.T) {
	var b *Bus
	if b.Publish(Event{Type: TypeHook}) != 0 {
		t.Error("nil bus delivered")
	}
}
