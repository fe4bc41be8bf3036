// Package host implements the bridge to the agent host process: a single
// WebSocket carrying JSON-tagged frames. Outbound calls are correlated by id;
// inbound events are republished on the bus or handed to terminal handlers.
package host

import "encoding/json"

// Frame is the wire envelope. Exactly one of Call, Notify, Event is set on a
// frame, discriminated by which field is non-empty; replies carry only ID
// plus Result or Error.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Call    string          `json:"call,omitempty"`
	Notify  string          `json:"notify,omitempty"`
	Event   string          `json:"event,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Outbound call and notification names.
const (
	callCreateSession     = "create_agent_session"
	callDeleteSession     = "delete_agent_session"
	callSendMessageStream = "send_message_stream"

	notifyCommandResponse    = "send_terminal_command_response"
	notifyScrollbackResponse = "send_term_scrollback_response"
)

// Inbound event names.
const (
	eventChatStream        = "chat_stream"
	eventCommandRequest    = "terminal_command_request"
	eventScrollbackRequest = "term_get_scrollback_request"
)

// CreateSessionRequest creates one logical agent conversation.
type CreateSessionRequest struct {
	ProviderID   string `json:"provider_id"`
	ModelID      string `json:"model_id"`
	SystemPrompt string `json:"system_prompt"`
}

type createSessionResult struct {
	SessionID string `json:"session_id"`
}

// SendMessageStreamRequest starts a streamed reply on the named channel.
type SendMessageStreamRequest struct {
	Channel          string   `json:"channel"`
	SessionID        string   `json:"session_id"`
	ProviderID       string   `json:"provider_id"`
	ModelID          string   `json:"model_id"`
	Message          string   `json:"message"`
	Images           []string `json:"images,omitempty"`
	TerminalToolMode bool     `json:"terminal_tool_mode"`
}

// CommandRequest is an agent-initiated request to run a terminal command.
type CommandRequest struct {
	RequestID   string `json:"request_id"`
	Command     string `json:"command"`
	WorkingDir  string `json:"working_dir,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

// CommandResponse is the correlated reply to a CommandRequest. Exactly one
// response must be sent per request id, success or failure.
type CommandResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Output    string `json:"output"`
	Error     string `json:"error,omitempty"`
	Rejected  bool   `json:"rejected"`
}

// ScrollbackRequest asks for a bounded page of terminal history.
type ScrollbackRequest struct {
	RequestID string `json:"request_id"`
	LineStart *int   `json:"line_start,omitempty"`
	Count     *int   `json:"count,omitempty"`
}

// ScrollbackResponse is the correlated reply to a ScrollbackRequest.
type ScrollbackResponse struct {
	RequestID  string `json:"request_id"`
	Success    bool   `json:"success"`
	TotalLines int    `json:"total_lines"`
	LineStart  int    `json:"line_start"`
	LineEnd    int    `json:"line_end"`
	Content    string `json:"content"`
	HasMore    bool   `json:"has_more"`
	Error      string `json:"error,omitempty"`
}

// TerminalRequests receives agent-initiated terminal traffic. Handlers are
// attached only while a terminal session is connected.
type TerminalRequests interface {
	HandleCommandRequest(req CommandRequest)
	HandleScrollbackRequest(req ScrollbackRequest)
}
