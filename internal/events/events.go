// Package events publishes tool-call lifecycle events to subscribers and
// sinks without ever blocking the executor.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	ToolCallStarted  Type = "tool_call_started"
	ToolCallFinished Type = "tool_call_finished"
)

type Event struct {
	Type       Type           `json:"type"`
	CallID     string         `json:"call_id"`
	SessionID  string         `json:"session_id,omitempty"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Status     string         `json:"status,omitempty"`
	Result     any            `json:"result,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives every published event. Write must not block.
type Sink interface {
	Write(Event)
	Close()
}

// Bus fans events out to channel subscribers and sinks.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	sinks   []Sink
	dropped atomic.Uint64
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), sinks: sinks}
}

// Subscribe returns a channel receiving future events and a cancel func.
// A subscriber that falls behind by more than buffer events misses them.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish is safe on a nil Bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	for _, s := range b.sinks {
		s.Write(e)
	}
}

// Dropped reports how many subscriber deliveries were skipped.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every sink. Subscribers are left to their cancel funcs.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, s := range b.sinks {
		s.Close()
	}
}
