package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/bus"
)

func publishEvent(t *testing.T, b *bus.Bus, channel string, ev StreamEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	b.Publish(channel, data)
}

func TestRouterFinalDoneReturnsNil(t *testing.T) {
	t.Parallel()

	b := bus.New(16)
	sub := b.Subscribe("ch")
	msg := newTestMessage()
	r := NewRouter(sub, NewAssembler(msg, nil, nil), nil)

	publishEvent(t, b, "ch", textDelta("hi"))
	publishEvent(t, b, "ch", StreamEvent{Type: EventFinalDone})

	updates := 0
	if err := r.Run(context.Background(), func() { updates++ }); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if msg.Content != "hi" {
		t.Errorf("content = %q", msg.Content)
	}
	if updates < 2 {
		t.Errorf("updates = %d, want at least delta + done", updates)
	}
}

func TestRouterErrorFinalizesAndReturnsError(t *testing.T) {
	t.Parallel()

	b := bus.New(16)
	sub := b.Subscribe("ch")
	msg := newTestMessage()
	r := NewRouter(sub, NewAssembler(msg, nil, nil), nil)

	publishEvent(t, b, "ch", StreamEvent{Type: EventError, Message: "provider blew up"})

	err := r.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run() = nil, want error")
	}
	if msg.Content != "provider blew up" {
		t.Errorf("content = %q, want error text", msg.Content)
	}
}

func TestRouterBackToBackErrorAndDoneTearsDownOnce(t *testing.T) {
	t.Parallel()

	b := bus.New(16)
	sub := b.Subscribe("ch")
	msg := newTestMessage()
	r := NewRouter(sub, NewAssembler(msg, nil, nil), nil)

	// Both terminal events queued before the router runs; the second must be
	// absorbed without a second unsubscribe or re-finalization.
	publishEvent(t, b, "ch", StreamEvent{Type: EventError, Message: "bad"})
	publishEvent(t, b, "ch", StreamEvent{Type: EventFinalDone})

	if err := r.Run(context.Background(), nil); err == nil {
		t.Fatal("Run() = nil, want the error outcome")
	}
	if msg.Content != "bad" {
		t.Errorf("content = %q, error finalization must not be overwritten", msg.Content)
	}

	// Closing again must be a no-op, and the events channel must be closed.
	sub.Close()
	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("subscription delivered an event after teardown")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed after teardown")
	}
}

func TestRouterCancelFinalizesLikeError(t *testing.T) {
	t.Parallel()

	b := bus.New(16)
	sub := b.Subscribe("ch")
	msg := newTestMessage()
	r := NewRouter(sub, NewAssembler(msg, nil, nil), nil)

	publishEvent(t, b, "ch", textDelta("part"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, nil) }()

	// Let the delta drain, then cancel mid-stream.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamCanceled) {
			t.Fatalf("Run() = %v, want ErrStreamCanceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop on cancel")
	}

	if msg.Content != "part" {
		t.Errorf("content = %q, accumulated text must survive cancel", msg.Content)
	}
	if msg.IsThinking {
		t.Error("message still thinking after cancel")
	}
}

func TestRouterDropsMalformedEvents(t *testing.T) {
	t.Parallel()

	b := bus.New(16)
	sub := b.Subscribe("ch")
	msg := newTestMessage()
	r := NewRouter(sub, NewAssembler(msg, nil, nil), nil)

	b.Publish("ch", json.RawMessage(`{not json`))
	b.Publish("ch", json.RawMessage(`{"text":"no type"}`))
	publishEvent(t, b, "ch", textDelta("ok"))
	publishEvent(t, b, "ch", StreamEvent{Type: EventFinalDone})

	if err := r.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if msg.Content != "ok" {
		t.Errorf("content = %q, malformed events must be dropped", msg.Content)
	}
}
