package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *collectSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := &collectSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Action: "login.failed", AccountID: "acct-1"})
	}
	d.Close()

	if sink.len() != 5 {
		t.Fatalf("delivered %d events, want 5", sink.len())
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &collectSink{})
	if d != nil {
		t.Fatal("disabled dispatcher is not nil")
	}
	// Nil dispatcher swallows everything.
	d.Emit(context.Background(), Event{Action: "noop"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDropIfFullCountsDrops(t *testing.T) {
	block := make(chan struct{})
	slow := sinkFunc(func(context.Context, Event) { <-block })

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, slow)

	// First event occupies the worker, second fills the buffer, the rest drop.
	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Action: "burst"})
	}

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if d.Dropped() == 0 {
		t.Fatal("no drops recorded under backpressure")
	}
	close(block)
	d.Close()
}

func TestJSONWriterSinkWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{Action: "login.success", AccountID: "acct-1", Success: true})
	sink.Emit(context.Background(), Event{Action: "logout", AccountID: "acct-1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var event Event
	if err := json.Unmarshal([]byte(lines[0]), &event); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if event.Action != "login.success" || !event.Success {
		t.Fatalf("unexpected event: %+v", event)
	}
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }
