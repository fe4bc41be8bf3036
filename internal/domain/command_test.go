package domain

import (
	"testing"
	"time"
)

func TestCommandAdvanceMonotonic(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tests := []struct {
		name string
		from CommandStatus
		to   CommandStatus
		ok   bool
	}{
		{name: "pending to executing", from: CommandPending, to: CommandExecuting, ok: true},
		{name: "pending to rejected", from: CommandPending, to: CommandRejected, ok: true},
		{name: "executing to completed", from: CommandExecuting, to: CommandCompleted, ok: true},
		{name: "executing to failed", from: CommandExecuting, to: CommandFailed, ok: true},
		{name: "pending straight to completed", from: CommandPending, to: CommandCompleted, ok: false},
		{name: "executing to rejected", from: CommandExecuting, to: CommandRejected, ok: false},
		{name: "completed to failed", from: CommandCompleted, to: CommandFailed, ok: false},
		{name: "rejected to executing", from: CommandRejected, to: CommandExecuting, ok: false},
		{name: "failed back to pending", from: CommandFailed, to: CommandPending, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cmd := &PendingCommand{ID: "c1", Status: tt.from}
			got := cmd.Advance(tt.to, now)
			if got != tt.ok {
				t.Errorf("Advance(%q -> %q) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
			if !tt.ok && cmd.Status != tt.from {
				t.Errorf("failed transition mutated status to %q", cmd.Status)
			}
			if tt.ok && cmd.Status != tt.to {
				t.Errorf("status = %q, want %q", cmd.Status, tt.to)
			}
		})
	}
}

func TestCommandAdvanceRecordsTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cmd := &PendingCommand{ID: "c1", Status: CommandPending}

	if !cmd.Advance(CommandExecuting, now) {
		t.Fatal("pending -> executing refused")
	}
	if cmd.ExecutedAt == nil {
		t.Error("ExecutedAt not recorded")
	}
	if !cmd.Advance(CommandCompleted, now) {
		t.Fatal("executing -> completed refused")
	}
	if cmd.CompletedAt == nil {
		t.Error("CompletedAt not recorded")
	}
	if !cmd.IsTerminal() {
		t.Error("completed command not terminal")
	}
}

func TestToolCallFinishIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tc := &ToolCallState{ID: "t1", Status: ToolCallRunning}

	if !tc.Finish(ToolCallCompleted, "out", now) {
		t.Fatal("first Finish refused")
	}
	if tc.Finish(ToolCallFailed, "late", now.Add(time.Second)) {
		t.Error("Finish on terminal state succeeded")
	}
	if tc.Status != ToolCallCompleted || tc.Result != "out" {
		t.Errorf("state = %q/%q after duplicate finish", tc.Status, tc.Result)
	}
}

func TestToolCallFinishRejectsNonTerminalTarget(t *testing.T) {
	t.Parallel()

	tc := &ToolCallState{ID: "t1", Status: ToolCallRunning}
	if tc.Finish(ToolCallRunning, "", time.Now()) {
		t.Error("Finish accepted running as a target status")
	}
}

func TestMessageCloneIsIndependent(t *testing.T) {
	t.Parallel()

	msg := &Message{
		ID:      "m1",
		Role:    RoleAssistant,
		Content: "hi",
		Parts: []ContentPart{
			{Kind: PartText, Text: "hi"},
			{Kind: PartToolUse, ToolID: "t1"},
		},
		ToolCalls: []*ToolCallState{{ID: "t1", Status: ToolCallRunning}},
	}

	clone := msg.Clone()
	msg.Parts[0].Text = "changed"
	msg.ToolCalls[0].Status = ToolCallCompleted

	if clone.Parts[0].Text != "hi" {
		t.Error("clone shares parts with original")
	}
	if clone.ToolCalls[0].Status != ToolCallRunning {
		t.Error("clone shares tool state with original")
	}
}
