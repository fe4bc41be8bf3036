// Package domain defines the core entities of the agent panel.
package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCallStatus is the lifecycle state of a single tool invocation.
type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// ToolCallState tracks one tool invocation inside an assistant message.
// Status moves running -> completed or running -> failed exactly once;
// all mutations must go through Finish.
type ToolCallState struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Status    ToolCallStatus  `json:"status"`
	Result    string          `json:"result,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
}

// IsTerminal reports whether the tool call has reached a final status.
func (t *ToolCallState) IsTerminal() bool {
	return t.Status == ToolCallCompleted || t.Status == ToolCallFailed
}

// Finish transitions the state to completed or failed, recording the result
// and end time. Returns false without mutating if the state is already
// terminal, so duplicate or out-of-order deliveries are harmless no-ops.
func (t *ToolCallState) Finish(status ToolCallStatus, result string, at time.Time) bool {
	if t.IsTerminal() {
		return false
	}
	if status != ToolCallCompleted && status != ToolCallFailed {
		return false
	}
	t.Status = status
	t.Result = result
	t.EndTime = &at
	return true
}

// PartKind discriminates content part variants.
type PartKind string

const (
	PartText    PartKind = "text"
	PartToolUse PartKind = "tool_use"
)

// ContentPart is one ordered unit of an assistant message: either a run of
// text or a reference (by id) to a tool invocation. Tool state itself lives
// in Message.ToolCalls; parts only point at it, so the two can never diverge.
type ContentPart struct {
	Kind   PartKind `json:"kind"`
	Text   string   `json:"text,omitempty"`
	ToolID string   `json:"tool_id,omitempty"`
}

// Message is a single chat message. Parts preserves strict arrival order of
// interleaved text and tool-use content; Content mirrors the accumulated
// text for consumers that do not care about structure.
type Message struct {
	ID         string           `json:"id"`
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	Parts      []ContentPart    `json:"parts,omitempty"`
	ToolCalls  []*ToolCallState `json:"tool_calls,omitempty"`
	IsThinking bool             `json:"is_thinking"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Clone returns a deep copy safe to serialize while the original is still
// being assembled. Raw argument bytes are shared; they are never mutated.
func (m *Message) Clone() *Message {
	out := *m
	if m.Parts != nil {
		out.Parts = make([]ContentPart, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]*ToolCallState, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			c := *tc
			out.ToolCalls[i] = &c
		}
	}
	return &out
}

// ToolCall returns the tool state referenced by id, or nil.
func (m *Message) ToolCall(id string) *ToolCallState {
	for _, tc := range m.ToolCalls {
		if tc.ID == id {
			return tc
		}
	}
	return nil
}
