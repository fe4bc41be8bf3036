package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/identity"
	"github.com/go-chi/chi/v5"
)

// HandleListCommands returns the visible terminal command set, oldest first.
func (h *Handler) HandleListCommands(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"commands": h.gw.Commands()})
}

// HandleApprove approves a pending command. Approving an unknown or already
// settled command is a no-op; the handler still returns 200 so a double-click
// in the UI is harmless.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		Error(w, http.StatusBadRequest, "command id is required")
		return
	}
	slog.Info("Command approval", "request_id", id, "panel_session_id", identity.SessionIDFromContext(r.Context()))
	h.gw.Approve(id)
	JSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// HandleReject declines a pending command.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		Error(w, http.StatusBadRequest, "command id is required")
		return
	}
	slog.Info("Command rejection", "request_id", id, "panel_session_id", identity.SessionIDFromContext(r.Context()))
	h.gw.Reject(id)
	JSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// HandleGetSettings returns the session preferences the panel runs with.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, _ *http.Request) {
	prefs := h.chat.Prefs()
	JSON(w, http.StatusOK, map[string]any{
		"provider_id":  prefs.ProviderID,
		"model_id":     prefs.ModelID,
		"auto_execute": prefs.AutoExecute,
	})
}

// HandleSetAutoExecute flips the approval bypass and persists it for the
// panel session.
func (h *Handler) HandleSetAutoExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoExecute bool `json:"auto_execute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.chat.SetAutoExecute(req.AutoExecute)

	// The flag lives on the prefs row the panel loaded at startup, not the
	// per-tab session id; persisting under the tab id would update zero rows.
	prefsID := h.chat.Prefs().SessionID
	if err := h.repo.SetAutoExecute(r.Context(), prefsID, req.AutoExecute); err != nil {
		slog.Error("Failed to persist auto-execute", "session_id", prefsID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist setting")
		return
	}

	slog.Info("Auto-execute updated",
		"session_id", prefsID,
		"panel_session_id", identity.SessionIDFromContext(r.Context()),
		"auto_execute", req.AutoExecute,
	)
	JSON(w, http.StatusOK, map[string]bool{"auto_execute": req.AutoExecute})
}
