package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/host"
	"github.com/agentdeck/agentdeck/internal/identity"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/termgw"
	"github.com/go-chi/chi/v5"
)

type stubHost struct{}

func (stubHost) CreateAgentSession(context.Context, host.CreateSessionRequest) (string, error) {
	return "sess-1", nil
}
func (stubHost) DeleteAgentSession(context.Context, string) error { return nil }
func (stubHost) SendMessageStream(context.Context, host.SendMessageStreamRequest) error {
	return nil
}

type stubResponder struct{}

func (stubResponder) SendTerminalCommandResponse(context.Context, host.CommandResponse) error {
	return nil
}

type stubRepo struct {
	autoExec map[string]bool
	pingErr  error
}

func (s *stubRepo) GetSessionPrefs(context.Context, string) (*domain.SessionPrefs, error) {
	return nil, nil
}
func (s *stubRepo) UpsertSessionPrefs(context.Context, *domain.SessionPrefs) error { return nil }
func (s *stubRepo) SetAutoExecute(_ context.Context, sessionID string, enabled bool) error {
	if s.autoExec == nil {
		s.autoExec = make(map[string]bool)
	}
	s.autoExec[sessionID] = enabled
	return nil
}
func (s *stubRepo) DeleteSessionPrefs(context.Context, string) error { return nil }
func (s *stubRepo) Ping(context.Context) error                       { return s.pingErr }
func (s *stubRepo) Close() error                                     { return nil }

var _ store.Repository = (*stubRepo)(nil)

func newTestRouter(t *testing.T) (*chi.Mux, *stubRepo, *chat.Manager) {
	t.Helper()

	cm := chat.NewManager(stubHost{}, bus.New(8), domain.SessionPrefs{SessionID: "default"}, nil, nil, nil)
	termMgr := terminal.NewManager()
	gw := termgw.NewGateway(termMgr, stubResponder{}, cm.AutoExecute, termgw.Config{}, nil, nil)
	t.Cleanup(gw.Stop)
	repo := &stubRepo{}

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	NewHandler(cm, gw, termMgr, repo).RegisterRoutes(r)
	return r, repo, cm
}

func TestListCommandsEmpty(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/commands/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Commands []domain.PendingCommand `json:"commands"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Commands) != 0 {
		t.Errorf("commands = %+v", body.Commands)
	}
}

func TestApproveUnknownCommandIsNoop(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/commands/ghost/approve", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, approve must be idempotent-safe", rec.Code)
	}
}

func TestSetAutoExecutePersists(t *testing.T) {
	t.Parallel()

	r, repo, cm := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/auto-execute", strings.NewReader(`{"auto_execute":true}`))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if !cm.AutoExecute() {
		t.Error("runtime flag not flipped")
	}
	if !repo.autoExec["default"] {
		t.Errorf("persisted flags = %v", repo.autoExec)
	}
}

// The UI sends a per-tab session header, but the auto-execute flag belongs
// to the prefs row loaded at startup. Persisting under the tab id would
// match no row and silently lose the setting across restarts.
func TestSetAutoExecutePersistsUnderPrefsKey(t *testing.T) {
	t.Parallel()

	r, repo, cm := newTestRouter(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/settings/auto-execute", strings.NewReader(`{"auto_execute":true}`))
	req.Header.Set(identity.SessionHeaderName, "tab-7")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if !cm.AutoExecute() {
		t.Error("runtime flag not flipped")
	}
	if !repo.autoExec["default"] {
		t.Errorf("flag not persisted under the prefs key: %v", repo.autoExec)
	}
	if _, ok := repo.autoExec["tab-7"]; ok {
		t.Error("flag persisted under the per-tab session id")
	}
}

func TestSendRequiresMessage(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/send", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/send", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}
}

func TestMessagesEmptyConversation(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Messages) != 0 {
		t.Errorf("messages = %+v", body.Messages)
	}
}

func TestHealthReportsTerminalAndSession(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["terminal_connected"] != false {
		t.Errorf("terminal_connected = %v", body["terminal_connected"])
	}
}
