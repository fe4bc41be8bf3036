package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/agentdeck/agentdeck/internal/chat"
	"github.com/agentdeck/agentdeck/internal/identity"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// sendRequest is the UI's chat send payload.
type sendRequest struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
}

// HandleSend runs one chat turn, streaming assistant message snapshots to the
// UI via SSE. Each `message` event carries the full message so far; the
// stream ends with a `done` or `error` event.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat send request",
		"request_id", reqID,
		"device_id", identity.DeviceIDFromContext(r.Context()),
		"message_length", len(req.Message),
		"images", len(req.Images),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	for msg, err := range h.chat.Send(r.Context(), req.Message, req.Images) {
		if err != nil {
			event := "error"
			if errors.Is(err, chat.ErrSendInFlight) {
				event = "busy"
			}
			slog.Warn("Chat stream ended with error", "request_id", reqID, "error", err)
			if writeErr := writeSSE(w, event, err.Error()); writeErr != nil {
				slog.Warn("failed to write SSE error event", "error", writeErr)
				return
			}
			flusher.Flush()
			return
		}

		data, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			slog.Warn("failed to marshal message snapshot", "error", marshalErr)
			if writeErr := writeSSE(w, "error", "failed to serialize message"); writeErr != nil {
				slog.Warn("failed to write SSE serialization error", "error", writeErr)
			}
			flusher.Flush()
			return
		}
		if writeErr := writeSSE(w, "message", string(data)); writeErr != nil {
			// Client went away; the send context cancels the stream.
			slog.Debug("SSE client disconnected", "request_id", reqID, "error", writeErr)
			return
		}
		flusher.Flush()
	}

	if err := writeSSE(w, "done", "{}"); err != nil {
		slog.Debug("failed to write SSE done event", "error", err)
		return
	}
	flusher.Flush()
}

// HandleCancel cancels the in-flight send, if any. Always succeeds.
func (h *Handler) HandleCancel(w http.ResponseWriter, _ *http.Request) {
	h.chat.CancelSend()
	JSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// HandleClear drops the conversation and the remote agent session.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	h.chat.Clear(r.Context())
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandleMessages returns the conversation snapshot.
func (h *Handler) HandleMessages(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"messages": h.chat.Messages()})
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
