package chat

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
)

// emptyResponsePlaceholder fills the flat content of a message that finished
// without any text.
const emptyResponsePlaceholder = "(no response)"

// Assembler builds one assistant message from its ordered stream events.
//
// Tool state has a single source of truth: the *ToolCallState stored in
// msg.ToolCalls and indexed by the tools map. Content parts only reference
// tool calls by id, so ordering bookkeeping and lifecycle bookkeeping cannot
// diverge. All status mutations funnel through updateToolCall.
//
// The router feeds it from a single goroutine; mu, when set, serializes
// mutation against snapshot readers on other goroutines.
type Assembler struct {
	msg    *domain.Message
	mu     sync.Locker
	text   strings.Builder
	tools  map[string]*domain.ToolCallState
	logger *slog.Logger
}

// NewAssembler wraps a freshly created assistant message. mu may be nil when
// no concurrent reader exists (tests).
func NewAssembler(msg *domain.Message, mu sync.Locker, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		msg:    msg,
		mu:     mu,
		tools:  make(map[string]*domain.ToolCallState),
		logger: logger,
	}
}

func (a *Assembler) lock() {
	if a.mu != nil {
		a.mu.Lock()
	}
}

func (a *Assembler) unlock() {
	if a.mu != nil {
		a.mu.Unlock()
	}
}

// Message returns the message under assembly.
func (a *Assembler) Message() *domain.Message {
	return a.msg
}

// Apply dispatches one stream event. final_done and error are handled by the
// router, which owns teardown.
func (a *Assembler) Apply(ev StreamEvent) {
	a.lock()
	defer a.unlock()

	switch ev.Type {
	case EventTextDelta:
		a.applyTextDelta(ev.Text)
	case EventToolStart:
		a.applyToolStart(ev)
	case EventToolEnd:
		a.applyToolEnd(ev)
	default:
		// Local-only problem, nothing upstream awaits it.
		a.logger.Warn("Unknown stream event type", "type", ev.Type, "message_id", a.msg.ID)
	}
}

// applyTextDelta appends to the trailing text part, or opens a new one when
// the last part is a tool use. The cumulative text is mirrored into the flat
// Content field for consumers that ignore structure.
func (a *Assembler) applyTextDelta(text string) {
	a.msg.IsThinking = false
	a.text.WriteString(text)
	a.msg.Content = a.text.String()

	if n := len(a.msg.Parts); n > 0 && a.msg.Parts[n-1].Kind == domain.PartText {
		a.msg.Parts[n-1].Text += text
		return
	}
	a.msg.Parts = append(a.msg.Parts, domain.ContentPart{Kind: domain.PartText, Text: text})
}

func (a *Assembler) applyToolStart(ev StreamEvent) {
	if ev.ToolID == "" {
		a.logger.Warn("tool_start without tool_id", "message_id", a.msg.ID)
		return
	}
	if _, exists := a.tools[ev.ToolID]; exists {
		// Duplicate start for a known id; the part is already placed.
		a.logger.Warn("Duplicate tool_start", "tool_id", ev.ToolID, "message_id", a.msg.ID)
		return
	}

	tc := &domain.ToolCallState{
		ID:        ev.ToolID,
		Name:      ev.ToolName,
		Arguments: ev.Arguments,
		Status:    domain.ToolCallRunning,
		StartTime: time.Now(),
	}
	a.tools[tc.ID] = tc
	a.msg.ToolCalls = append(a.msg.ToolCalls, tc)
	a.msg.Parts = append(a.msg.Parts, domain.ContentPart{Kind: domain.PartToolUse, ToolID: tc.ID})
}

func (a *Assembler) applyToolEnd(ev StreamEvent) {
	status := domain.ToolCallCompleted
	result := ""
	if ev.Result != nil {
		if !ev.Result.Success {
			status = domain.ToolCallFailed
			result = ev.Result.Error
		} else {
			result = ev.Result.Output
		}
	}
	a.updateToolCall(ev.ToolID, status, result)
}

// updateToolCall is the single mutation point for tool lifecycle state. A
// transition on an already-terminal call is a no-op, which tolerates
// duplicate and out-of-order delivery. A tool_end for an id that never
// started is logged and recorded as a synthesized terminal-only entry so the
// result is not silently lost.
func (a *Assembler) updateToolCall(id string, status domain.ToolCallStatus, result string) {
	if id == "" {
		a.logger.Warn("tool_end without tool_id", "message_id", a.msg.ID)
		return
	}

	now := time.Now()
	if tc, ok := a.tools[id]; ok {
		if !tc.Finish(status, result, now) {
			a.logger.Warn("Ignoring transition on terminal tool call",
				"tool_id", id,
				"status", tc.Status,
				"message_id", a.msg.ID,
			)
		}
		return
	}

	a.logger.Warn("tool_end for unknown tool id, synthesizing entry",
		"tool_id", id,
		"message_id", a.msg.ID,
	)
	tc := &domain.ToolCallState{
		ID:        id,
		Name:      "unknown",
		Status:    status,
		Result:    result,
		StartTime: now,
		EndTime:   &now,
	}
	a.tools[id] = tc
	a.msg.ToolCalls = append(a.msg.ToolCalls, tc)
	a.msg.Parts = append(a.msg.Parts, domain.ContentPart{Kind: domain.PartToolUse, ToolID: id})
}

// FinalizeDone settles the message after final_done.
func (a *Assembler) FinalizeDone() {
	a.lock()
	defer a.unlock()

	a.msg.IsThinking = false
	if a.text.Len() == 0 {
		a.msg.Content = emptyResponsePlaceholder
		return
	}
	a.msg.Content = a.text.String()
}

// FinalizeError settles the message after a stream error, keeping whatever
// text accumulated and falling back to the error text when nothing did.
func (a *Assembler) FinalizeError(errMsg string) {
	a.lock()
	defer a.unlock()

	a.msg.IsThinking = false
	if a.text.Len() == 0 {
		a.msg.Content = errMsg
		a.msg.Parts = append(a.msg.Parts, domain.ContentPart{Kind: domain.PartText, Text: errMsg})
		return
	}
	a.msg.Content = a.text.String()
}
