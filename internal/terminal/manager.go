// Package terminal provides the embedded terminal session: a WebSocket
// attach surface for the UI, a write bridge for approved agent commands, and
// bounded scrollback served back to the agent.
package terminal

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ErrNotConnected is returned by the write bridge when no terminal is live.
var ErrNotConnected = errors.New("no terminal connected")

// Session is one live terminal: the UI WebSocket, the shell stream behind
// it, and the scrollback ring capturing its output.
type Session struct {
	PanelID    string
	ExecID     string
	ws         *websocket.Conn
	shell      io.Writer
	scrollback *Scrollback
}

// NewSession binds a terminal session around an attached shell stream.
func NewSession(panelID, execID string, ws *websocket.Conn, shell io.Writer, scrollback *Scrollback) *Session {
	return &Session{
		PanelID:    panelID,
		ExecID:     execID,
		ws:         ws,
		shell:      shell,
		scrollback: scrollback,
	}
}

// Manager tracks the active terminal session. The panel drives a single
// embedded terminal; connecting a new one replaces (and closes) the old.
type Manager struct {
	mu     sync.RWMutex
	active *Session
}

// NewManager creates an empty terminal manager.
func NewManager() *Manager {
	return &Manager{}
}

// Connect makes the session the active terminal, closing any replaced one.
func (m *Manager) Connect(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active != s && m.active.ws != nil {
		_ = m.active.ws.Close(websocket.StatusNormalClosure, "terminal replaced")
	}
	m.active = s
	slog.Info("Terminal connected", "panel_session_id", s.PanelID, "exec_id", s.ExecID)
}

// Disconnect drops the session and reports whether it was still the active
// one. A session that was already replaced returns false so its teardown
// does not touch state owned by the successor.
func (m *Manager) Disconnect(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != s {
		return false
	}
	m.active = nil
	slog.Info("Terminal disconnected", "panel_session_id", s.PanelID)
	return true
}

// Connected reports whether a terminal is currently attached.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != nil
}

// Write is the terminal write bridge: it sends raw bytes into the live
// shell. Approved agent commands go through here, newline-terminated.
func (m *Manager) Write(p []byte) error {
	m.mu.RLock()
	s := m.active
	m.mu.RUnlock()

	if s == nil {
		return ErrNotConnected
	}
	if _, err := s.shell.Write(p); err != nil {
		return err
	}
	return nil
}

// Lines returns the active terminal's scrollback split into lines.
func (m *Manager) Lines() ([]string, error) {
	m.mu.RLock()
	s := m.active
	m.mu.RUnlock()

	if s == nil {
		return nil, ErrNotConnected
	}
	return s.scrollback.Lines(), nil
}
