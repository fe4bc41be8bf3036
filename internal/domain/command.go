package domain

import "time"

// CommandStatus is the lifecycle state of a pending terminal command.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
	CommandRejected  CommandStatus = "rejected"
)

// PendingCommand is an agent-requested terminal command awaiting approval.
// Its ID doubles as the request correlation id echoed in the reply.
type PendingCommand struct {
	ID          string        `json:"id"`
	Command     string        `json:"command"`
	WorkingDir  string        `json:"working_dir,omitempty"`
	TimeoutSecs int           `json:"timeout_secs,omitempty"`
	Status      CommandStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExecutedAt  *time.Time    `json:"executed_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// IsTerminal reports whether the command reached a final status.
func (c *PendingCommand) IsTerminal() bool {
	switch c.Status {
	case CommandCompleted, CommandFailed, CommandRejected:
		return true
	}
	return false
}

// Advance moves the command along its monotonic state machine:
// pending -> executing -> {completed|failed}, or pending -> rejected.
// Any other transition returns false and leaves the command untouched,
// so a command can never re-enter pending or leave a terminal status.
func (c *PendingCommand) Advance(to CommandStatus, at time.Time) bool {
	switch {
	case c.Status == CommandPending && to == CommandExecuting:
		c.ExecutedAt = &at
	case c.Status == CommandPending && to == CommandRejected:
		c.CompletedAt = &at
	case c.Status == CommandExecuting && (to == CommandCompleted || to == CommandFailed):
		c.CompletedAt = &at
	default:
		return false
	}
	c.Status = to
	return true
}
