// Package chat implements the agent conversation core: the session manager,
// the per-message stream event router, and the message assembler that turns
// interleaved stream events into ordered content.
package chat

import (
	"encoding/json"
	"fmt"
)

// Stream event types, as tagged on the wire.
const (
	EventTextDelta = "text_delta"
	EventToolStart = "tool_start"
	EventToolEnd   = "tool_end"
	EventFinalDone = "final_done"
	EventError     = "error"
)

// StreamEvent is the discriminated union carried on a chat stream channel.
type StreamEvent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ToolID    string          `json:"tool_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    *ToolResult     `json:"result,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ToolResult is the outcome attached to a tool_end event.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ParseStreamEvent decodes one raw payload from the stream channel.
func ParseStreamEvent(payload json.RawMessage) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	if ev.Type == "" {
		return StreamEvent{}, fmt.Errorf("stream event missing type")
	}
	return ev, nil
}

// StreamChannel names the per-message event channel.
func StreamChannel(messageID string) string {
	return "chat_stream:" + messageID
}
