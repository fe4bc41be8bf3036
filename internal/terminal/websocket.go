package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/agentdeck/agentdeck/internal/container"
	"github.com/agentdeck/agentdeck/internal/identity"
	"github.com/coder/websocket"
)

// WebSocketHandler attaches the UI to the embedded terminal over WebSocket.
type WebSocketHandler struct {
	workspace       container.Manager
	mgr             *Manager
	scrollbackBytes int
	allowedOrigin   string
	isDev           bool

	// onConnect/onDisconnect bracket the terminal lifetime; the command
	// gateway and host bridge handlers are attached and detached here.
	onConnect    func(*Session)
	onDisconnect func(*Session)
}

// NewWebSocketHandler creates the terminal attach handler.
func NewWebSocketHandler(workspace container.Manager, mgr *Manager, scrollbackBytes int, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		workspace:       workspace,
		mgr:             mgr,
		scrollbackBytes: scrollbackBytes,
		allowedOrigin:   allowedOrigin,
		isDev:           isDev,
	}
}

// SetLifecycleHooks registers connect/disconnect callbacks.
func (h *WebSocketHandler) SetLifecycleHooks(onConnect, onDisconnect func(*Session)) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// wsWriter adapts websocket.Conn to io.Writer for the output pump.
type wsWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsWriter) Write(p []byte) (int, error) {
	if w.ctx.Err() != nil {
		return 0, w.ctx.Err()
	}
	if err := w.conn.Write(context.Background(), websocket.MessageBinary, p); err != nil {
		if w.ctx.Err() != nil {
			return 0, w.ctx.Err()
		}
		slog.Debug("WebSocket write error", "error", err)
		return 0, err
	}
	return len(p), nil
}

// wsMessage is the client-to-server control message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Cols    uint   `json:"cols,omitempty"`
	Rows    uint   `json:"rows,omitempty"`
}

// ServeHTTP upgrades the connection and runs the terminal session until
// either side goes away.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	panelID := identity.SessionIDFromContext(r.Context())
	slog.Info("Terminal WebSocket request", "panel_session_id", panelID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "panel_session_id", panelID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	containerID, err := h.workspace.EnsureWorkspace(ctx)
	if err != nil {
		slog.Error("Failed to ensure workspace container", "error", err)
		h.writeControl(ws, map[string]string{"error": "workspace_not_ready"})
		return
	}

	execID, shell, err := h.workspace.CreateExecSession(ctx, containerID)
	if err != nil {
		slog.Error("Failed to create exec session", "error", err)
		h.writeControl(ws, map[string]string{"error": "failed_to_create_exec"})
		return
	}
	defer func() {
		if closeErr := shell.Close(); closeErr != nil {
			slog.Debug("Failed to close exec stream", "error", closeErr)
		}
	}()

	session := NewSession(panelID, execID, ws, shell, NewScrollback(h.scrollbackBytes))
	h.mgr.Connect(session)

	if h.onConnect != nil {
		h.onConnect(session)
	}
	// When this session was replaced by a newer one, its unwind runs after
	// the successor's connect hook; firing onDisconnect then would tear down
	// the handlers the successor just attached. Only the still-active session
	// gets the disconnect hook.
	defer func() {
		if h.mgr.Disconnect(session) && h.onDisconnect != nil {
			h.onDisconnect(session)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	// Input pump: WebSocket -> shell.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, shell, execID, panelID)
	}()

	// Output pump: shell -> WebSocket, teed into scrollback so the agent
	// can page through history later.
	go func() {
		defer wg.Done()
		defer cancel()
		out := io.MultiWriter(&wsWriter{ws, ctx}, session.scrollback)
		if _, err := io.Copy(out, shell); err != nil &&
			!errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
			slog.Warn("Terminal output error", "error", err)
		}
	}()

	wg.Wait()
	slog.Info("Terminal session ended", "panel_session_id", panelID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, shell io.Writer, execID, panelID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "panel_session_id", panelID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "panel_session_id", panelID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Raw keystrokes, not a control message.
			if _, err := shell.Write(message); err != nil {
				slog.Error("Shell write error", "error", err)
				return
			}
			continue
		}

		switch msg.Type {
		case "data":
			if _, err := shell.Write([]byte(msg.Content)); err != nil {
				slog.Error("Shell stdin write error", "error", err)
				return
			}
		case "ping":
			h.writeControl(ws, map[string]string{"type": "pong"})
		case "resize":
			if err := h.workspace.ResizeExecSession(ctx, execID, msg.Cols, msg.Rows); err != nil {
				slog.Warn("Failed to resize terminal", "error", err)
			}
		case "terminate":
			slog.Info("Terminal terminate requested", "panel_session_id", panelID)
			h.writeControl(ws, map[string]string{"type": "terminated"})
			return
		}
	}
}

func (h *WebSocketHandler) writeControl(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Debug("Failed to marshal control message", "error", err)
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("Failed to write control message", "error", err)
	}
}
