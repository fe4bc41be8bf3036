package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/host"
	"github.com/agentdeck/agentdeck/internal/transcript"
	"github.com/google/uuid"
)

var (
	// ErrSessionCreation marks a failed remote session create. Callers must
	// abort the in-flight send and surface a notice without auto-retrying.
	ErrSessionCreation = errors.New("agent session creation failed")

	// ErrSendInFlight rejects a send while another one is outstanding.
	ErrSendInFlight = errors.New("a send is already in flight")
)

// HostClient is the slice of the host bridge the chat core needs.
type HostClient interface {
	CreateAgentSession(ctx context.Context, req host.CreateSessionRequest) (string, error)
	DeleteAgentSession(ctx context.Context, sessionID string) error
	SendMessageStream(ctx context.Context, req host.SendMessageStreamRequest) error
}

// Manager owns one logical agent conversation: the lazily created session,
// its message list, and the single-send-in-flight gate.
type Manager struct {
	host   HostClient
	bus    *bus.Bus
	prefs  domain.SessionPrefs
	log    transcript.Logger
	logger *slog.Logger

	// terminalConnected reports whether a live terminal is attached; it
	// drives the terminal-tool-mode flag on outgoing sends.
	terminalConnected func() bool

	mu         sync.Mutex
	session    *domain.AgentSession
	messages   []*domain.Message
	sending    bool
	cancelSend context.CancelFunc

	// streamMu serializes in-flight message assembly against snapshot reads,
	// so the message list can be served while a stream is still running.
	streamMu sync.Mutex
}

// NewManager constructs a conversation manager. prefs is the configuration
// snapshot loaded once at session start.
func NewManager(hc HostClient, b *bus.Bus, prefs domain.SessionPrefs, tl transcript.Logger, logger *slog.Logger, terminalConnected func() bool) *Manager {
	if tl == nil {
		tl = transcript.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if terminalConnected == nil {
		terminalConnected = func() bool { return false }
	}
	return &Manager{
		host:              hc,
		bus:               b,
		prefs:             prefs,
		log:               tl,
		logger:            logger,
		terminalConnected: terminalConnected,
	}
}

// Prefs returns the configuration snapshot this conversation runs with.
func (m *Manager) Prefs() domain.SessionPrefs {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs
}

// AutoExecute reports whether agent terminal commands bypass approval.
func (m *Manager) AutoExecute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs.AutoExecute
}

// SetAutoExecute flips the approval bypass at runtime. Persistence is the
// caller's concern.
func (m *Manager) SetAutoExecute(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs.AutoExecute = v
}

// SessionID returns the cached agent session id, or "" before first send.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ""
	}
	return m.session.ID
}

// Messages returns a deep-copied snapshot of the conversation, safe to
// serialize while a stream is mutating the tail message.
func (m *Manager) Messages() []*domain.Message {
	m.mu.Lock()
	live := make([]*domain.Message, len(m.messages))
	copy(live, m.messages)
	m.mu.Unlock()

	m.streamMu.Lock()
	defer m.streamMu.Unlock()
	out := make([]*domain.Message, len(live))
	for i, msg := range live {
		out[i] = msg.Clone()
	}
	return out
}

// EnsureSession returns the cached session id, creating the remote session
// on first use. Repeated calls are idempotent.
func (m *Manager) EnsureSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.session != nil {
		id := m.session.ID
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	id, err := m.host.CreateAgentSession(ctx, host.CreateSessionRequest{
		ProviderID:   m.prefs.ProviderID,
		ModelID:      m.prefs.ModelID,
		SystemPrompt: m.prefs.SystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSessionCreation, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		m.session = &domain.AgentSession{
			ID:           id,
			ProviderID:   m.prefs.ProviderID,
			ModelID:      m.prefs.ModelID,
			SystemPrompt: m.prefs.SystemPrompt,
		}
		m.logger.Info("Agent session created", "agent_session_id", id, "panel_session_id", m.prefs.SessionID)
	}
	return m.session.ID, nil
}

// Clear cancels any in-flight send, drops the cached session id and all
// messages, and best-effort deletes the remote session. The next
// EnsureSession creates a fresh one.
func (m *Manager) Clear(ctx context.Context) {
	m.CancelSend()

	m.mu.Lock()
	session := m.session
	m.session = nil
	m.messages = nil
	m.mu.Unlock()

	if session == nil {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.host.DeleteAgentSession(deleteCtx, session.ID); err != nil {
		m.logger.Warn("Failed to delete remote agent session", "agent_session_id", session.ID, "error", err)
	}
	m.logger.Info("Conversation cleared", "agent_session_id", session.ID)
}

// CancelSend cancels the in-flight send, if any. The stream is finalized the
// same way an error event would finalize it.
func (m *Manager) CancelSend() {
	m.mu.Lock()
	cancel := m.cancelSend
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send starts one chat turn and yields assistant message snapshots as stream
// events are applied. Only one send may be in flight; a concurrent send
// yields ErrSendInFlight immediately. The final yield carries either a nil
// error (done) or the stream/session error.
func (m *Manager) Send(ctx context.Context, text string, images []string) iter.Seq2[*domain.Message, error] {
	return func(yield func(*domain.Message, error) bool) {
		m.mu.Lock()
		if m.sending {
			m.mu.Unlock()
			yield(nil, ErrSendInFlight)
			return
		}
		sendCtx, cancel := context.WithCancel(ctx)
		m.sending = true
		m.cancelSend = cancel
		m.mu.Unlock()

		defer func() {
			cancel()
			m.mu.Lock()
			m.sending = false
			m.cancelSend = nil
			m.mu.Unlock()
		}()

		sessionID, err := m.EnsureSession(sendCtx)
		if err != nil {
			yield(nil, err)
			return
		}

		now := time.Now()
		userMsg := &domain.Message{
			ID:        uuid.NewString(),
			Role:      domain.RoleUser,
			Content:   text,
			Timestamp: now,
		}
		assistant := &domain.Message{
			ID:         uuid.NewString(),
			Role:       domain.RoleAssistant,
			IsThinking: true,
			Timestamp:  now,
		}
		m.mu.Lock()
		m.messages = append(m.messages, userMsg, assistant)
		m.mu.Unlock()

		m.log.Log(transcript.Event{
			SessionID:  m.prefs.SessionID,
			Channel:    "chat",
			Direction:  "outbound",
			EventType:  "user_message",
			ContentRaw: text,
			Meta:       map[string]any{"message_id": userMsg.ID, "images": len(images)},
		})

		// Subscribe before starting the stream: the bus drops events that
		// arrive with no subscriber attached.
		sub := m.bus.Subscribe(StreamChannel(assistant.ID))
		asm := NewAssembler(assistant, &m.streamMu, m.logger)
		router := NewRouter(sub, asm, m.logger)

		err = m.host.SendMessageStream(sendCtx, host.SendMessageStreamRequest{
			Channel:          StreamChannel(assistant.ID),
			SessionID:        sessionID,
			ProviderID:       m.prefs.ProviderID,
			ModelID:          m.prefs.ModelID,
			Message:          text,
			Images:           images,
			TerminalToolMode: m.terminalConnected(),
		})
		if err != nil {
			sub.Close()
			asm.FinalizeError("failed to start stream: " + err.Error())
			yield(assistant, fmt.Errorf("start message stream: %w", err))
			return
		}

		stopped := false
		if !yield(assistant, nil) {
			stopped = true
			cancel()
		}

		runErr := router.Run(sendCtx, func() {
			if stopped {
				return
			}
			if !yield(assistant, nil) {
				stopped = true
				cancel()
			}
		})

		m.log.Log(transcript.Event{
			SessionID:  m.prefs.SessionID,
			Channel:    "chat",
			Direction:  "inbound",
			EventType:  "assistant_message",
			ContentRaw: assistant.Content,
			Meta: map[string]any{
				"message_id": assistant.ID,
				"tool_calls": len(assistant.ToolCalls),
				"stream_err": errString(runErr),
			},
		})

		if runErr != nil && !stopped && !errors.Is(runErr, ErrStreamCanceled) {
			yield(assistant, runErr)
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
