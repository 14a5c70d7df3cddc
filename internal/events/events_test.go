package events

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *recordingSink) Write(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func TestBusDeliversToSubscribersAndSinks(t *testing.T) {
	sink := &recordingSink{}
	bus := NewBus(sink)
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Type: ToolCallStarted, CallID: "c1", ToolName: "read_file"})

	select {
	case e := <-ch:
		if e.CallID != "c1" || e.Type != ToolCallStarted {
			t.Fatalf("unexpected event %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Fatal("timestamp should be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	if len(sink.events) != 1 {
		t.Fatalf("sink got %d events", len(sink.events))
	}
	bus.Close()
	if !sink.closed {
		t.Fatal("sink not closed")
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: ToolCallFinished, CallID: "c"})
	}
	if got := bus.Dropped(); got != 4 {
		t.Fatalf("expected 4 dropped deliveries, got %d", got)
	}
	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered event, got %d", len(ch))
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	bus.Publish(Event{Type: ToolCallStarted})
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: ToolCallStarted})
	bus.Close()
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	sink.Write(Event{Type: ToolCallFinished, CallID: "c9", ToolName: "glob", Status: "ok"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != string(ToolCallFinished) {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["call_id"]; got != "c9" {
		t.Fatalf("unexpected call_id %v", got)
	}
}
