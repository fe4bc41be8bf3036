package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/host"
)

// fakeHost scripts the host side of a conversation. Stream events are
// published synchronously from SendMessageStream; the manager subscribes
// before calling it, so the buffered subscription holds them.
type fakeHost struct {
	mu        sync.Mutex
	bus       *bus.Bus
	created   int
	createErr error
	deleted   []string
	streams   []host.SendMessageStreamRequest
	streamErr error
	script    []StreamEvent
}

func (f *fakeHost) CreateAgentSession(_ context.Context, _ host.CreateSessionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created++
	return "sess-1", nil
}

func (f *fakeHost) DeleteAgentSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeHost) SendMessageStream(_ context.Context, req host.SendMessageStreamRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return f.streamErr
	}
	f.streams = append(f.streams, req)
	for _, ev := range f.script {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		f.bus.Publish(req.Channel, data)
	}
	return nil
}

func newTestManager(f *fakeHost) *Manager {
	if f.bus == nil {
		f.bus = bus.New(64)
	}
	prefs := domain.SessionPrefs{
		SessionID:  "default",
		ProviderID: "anthropic",
		ModelID:    "test-model",
	}
	return NewManager(f, f.bus, prefs, nil, nil, nil)
}

func TestEnsureSessionIdempotent(t *testing.T) {
	t.Parallel()

	f := &fakeHost{}
	m := newTestManager(f)

	id1, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	id2, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if id1 != id2 {
		t.Errorf("session ids differ: %q vs %q", id1, id2)
	}
	if f.created != 1 {
		t.Errorf("host create calls = %d, want 1", f.created)
	}
}

func TestEnsureSessionWrapsHostError(t *testing.T) {
	t.Parallel()

	f := &fakeHost{createErr: errors.New("host down")}
	m := newTestManager(f)

	if _, err := m.EnsureSession(context.Background()); !errors.Is(err, ErrSessionCreation) {
		t.Fatalf("EnsureSession err = %v, want ErrSessionCreation", err)
	}
}

func TestSendAssemblesAssistantMessage(t *testing.T) {
	t.Parallel()

	f := &fakeHost{script: []StreamEvent{
		textDelta("hello "),
		toolStart("t1", "run_command"),
		toolEnd("t1", true, "done", ""),
		textDelta("world"),
		{Type: EventFinalDone},
	}}
	m := newTestManager(f)

	var last *domain.Message
	for msg, err := range m.Send(context.Background(), "hi", nil) {
		if err != nil {
			t.Fatalf("Send yielded error: %v", err)
		}
		last = msg
	}

	if last == nil {
		t.Fatal("Send yielded nothing")
	}
	if last.Content != "hello world" {
		t.Errorf("content = %q", last.Content)
	}
	if len(last.ToolCalls) != 1 || last.ToolCalls[0].Status != domain.ToolCallCompleted {
		t.Errorf("tool calls = %+v", last.ToolCalls)
	}

	msgs := m.Messages()
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want user + assistant", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[1].Role != domain.RoleAssistant {
		t.Errorf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}

	// The gate must be released; a second send works.
	for _, err := range m.Send(context.Background(), "again", nil) {
		if err != nil {
			t.Fatalf("second Send yielded error: %v", err)
		}
	}
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	t.Parallel()

	f := &fakeHost{script: []StreamEvent{{Type: EventFinalDone}}}
	m := newTestManager(f)

	var nested error
	checked := false
	for _, err := range m.Send(context.Background(), "first", nil) {
		if err != nil {
			t.Fatalf("Send yielded error: %v", err)
		}
		if !checked {
			checked = true
			for _, innerErr := range m.Send(context.Background(), "second", nil) {
				nested = innerErr
			}
		}
	}

	if !errors.Is(nested, ErrSendInFlight) {
		t.Fatalf("nested send err = %v, want ErrSendInFlight", nested)
	}
}

func TestSendStreamErrorYieldedOnce(t *testing.T) {
	t.Parallel()

	f := &fakeHost{script: []StreamEvent{
		textDelta("partial"),
		{Type: EventError, Message: "provider failed"},
	}}
	m := newTestManager(f)

	var errs []error
	var last *domain.Message
	for msg, err := range m.Send(context.Background(), "hi", nil) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		last = msg
	}

	if len(errs) != 1 {
		t.Fatalf("error yields = %d, want 1", len(errs))
	}
	if last == nil || last.Content != "partial" {
		t.Errorf("accumulated text lost on stream error: %+v", last)
	}
}

func TestClearDropsStateAndDeletesRemoteSession(t *testing.T) {
	t.Parallel()

	f := &fakeHost{script: []StreamEvent{{Type: EventFinalDone}}}
	m := newTestManager(f)

	for _, err := range m.Send(context.Background(), "hi", nil) {
		if err != nil {
			t.Fatalf("Send yielded error: %v", err)
		}
	}

	m.Clear(context.Background())

	if got := m.SessionID(); got != "" {
		t.Errorf("SessionID after clear = %q, want empty", got)
	}
	if got := m.Messages(); len(got) != 0 {
		t.Errorf("messages after clear = %d, want 0", len(got))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deleted) != 1 || f.deleted[0] != "sess-1" {
		t.Errorf("deleted sessions = %v", f.deleted)
	}

	// A new session is created on the next send.
	if f.created != 1 {
		t.Fatalf("created = %d before re-send", f.created)
	}
}

func TestSendTerminalToolModeFollowsTerminalState(t *testing.T) {
	t.Parallel()

	f := &fakeHost{script: []StreamEvent{{Type: EventFinalDone}}}
	f.bus = bus.New(64)
	connected := false
	m := NewManager(f, f.bus, domain.SessionPrefs{SessionID: "default"}, nil, nil, func() bool { return connected })

	for _, err := range m.Send(context.Background(), "one", nil) {
		if err != nil {
			t.Fatalf("Send yielded error: %v", err)
		}
	}
	connected = true
	for _, err := range m.Send(context.Background(), "two", nil) {
		if err != nil {
			t.Fatalf("Send yielded error: %v", err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) != 2 {
		t.Fatalf("stream calls = %d", len(f.streams))
	}
	if f.streams[0].TerminalToolMode || !f.streams[1].TerminalToolMode {
		t.Errorf("terminal tool mode flags = %v, %v", f.streams[0].TerminalToolMode, f.streams[1].TerminalToolMode)
	}
}
