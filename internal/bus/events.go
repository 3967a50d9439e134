package bus

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"ava/internal/domain"
)

const defaultEventHistory = 1000

// EventHandler is called for each matching event.
type EventHandler func(domain.Event)

type subscription struct {
	id      string
	handler EventHandler
}

// EventBus fans gating and approval events out to subscribers and keeps a
// bounded history for Replay. Patterns are an exact type, "*" for
// everything, or a "prefix.*" group such as "security.*".
type EventBus struct {
	mu         sync.RWMutex
	subs       map[string][]subscription
	seq        int
	history    []domain.Event
	maxHistory int
	logger     *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:       make(map[string][]subscription),
		maxHistory: defaultEventHistory,
		logger:     logger,
	}
}

// On subscribes handler to pattern and returns an id for Off.
func (eb *EventBus) On(pattern string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := pattern + "#" + strconv.Itoa(eb.seq)
	eb.subs[pattern] = append(eb.subs[pattern], subscription{id: id, handler: handler})
	return id
}

// Off removes the subscription with the given id. Unknown ids are ignored.
func (eb *EventBus) Off(id string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	pattern, _, ok := strings.Cut(id, "#")
	if !ok {
		return
	}
	subs := eb.subs[pattern]
	for i, s := range subs {
		if s.id == id {
			eb.subs[pattern] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit records ev and calls every matching handler in subscription order.
// A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, ev)
	var targets []subscription
	for _, pattern := range patternsFor(ev.Type) {
		targets = append(targets, eb.subs[pattern]...)
	}
	eb.mu.Unlock()

	for _, s := range targets {
		eb.dispatch(s, ev)
	}
}

func (eb *EventBus) dispatch(s subscription, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", ev.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(ev)
}

// Replay returns recorded events matching pattern at or after since.
func (eb *EventBus) Replay(pattern string, since time.Time) []domain.Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	var out []domain.Event
	for _, ev := range eb.history {
		if ev.Timestamp.Before(since) || !matches(pattern, ev.Type) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// patternsFor lists every subscription key that matches eventType:
// the type itself, each enclosing "prefix.*" group, and "*".
func patternsFor(eventType string) []string {
	patterns := []string{eventType}
	for i := len(eventType) - 1; i > 0; i-- {
		if eventType[i] == '.' {
			patterns = append(patterns, eventType[:i]+".*")
		}
	}
	return append(patterns, "*")
}

func matches(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ".*")
	return ok && strings.HasPrefix(eventType, prefix+".")
}
