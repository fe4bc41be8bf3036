// Package api provides the HTTP surface the panel UI talks to.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/terminal"
	"github.com/agentdeck/agentdeck/internal/termgw"
	"github.com/go-chi/chi/v5"
)

// Handler bundles the panel services behind HTTP routes.
type Handler struct {
	chat *chat.Manager
	gw   *termgw.Gateway
	term *terminal.Manager
	repo store.Repository
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(cm *chat.Manager, gw *termgw.Gateway, term *terminal.Manager, repo store.Repository) *Handler {
	return &Handler{
		chat: cm,
		gw:   gw,
		term: term,
		repo: repo,
	}
}

// RegisterRoutes mounts all panel API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/send", h.HandleSend)
		r.Post("/cancel", h.HandleCancel)
		r.Post("/clear", h.HandleClear)
		r.Get("/messages", h.HandleMessages)
	})
	r.Route("/api/commands", func(r chi.Router) {
		r.Get("/", h.HandleListCommands)
		r.Post("/{id}/approve", h.HandleApprove)
		r.Post("/{id}/reject", h.HandleReject)
	})
	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.HandleGetSettings)
		r.Put("/auto-execute", h.HandleSetAutoExecute)
	})
	r.Get("/api/healthz", h.HandleHealth)
}

// HandleHealth reports readiness of the panel's local dependencies.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	dbErr := ""
	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		dbErr = err.Error()
	}
	JSON(w, code, map[string]any{
		"status":             status,
		"database_error":     dbErr,
		"terminal_connected": h.term.Connected(),
		"agent_session_id":   h.chat.SessionID(),
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
