// Package termgw implements the terminal command gateway and the scrollback
// responder: the two listeners that serve agent-initiated terminal traffic.
//
// The reliability contract of this package is that every request id that
// reaches it receives exactly one correlated reply, success or failure; the
// remote agent blocks a tool invocation on that reply.
package termgw

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/host"
	"github.com/agentdeck/agentdeck/internal/transcript"
)

const (
	rejectedByUserMessage      = "user rejected the command"
	terminalDisconnectedReason = "terminal disconnected before the command ran"
	responseTimeout            = 5 * time.Second
	requestQueueSize           = 128
)

// TerminalBridge is the write side of the live terminal.
type TerminalBridge interface {
	Write(p []byte) error
	Connected() bool
}

// CommandResponder sends correlated command replies back to the agent host.
type CommandResponder interface {
	SendTerminalCommandResponse(ctx context.Context, resp host.CommandResponse) error
}

// Config carries gateway tuning.
type Config struct {
	// CommandRetention is how long completed/failed commands stay visible.
	CommandRetention time.Duration
	// RejectedRetention is the shorter retention for rejected commands.
	RejectedRetention time.Duration
}

// Gateway owns the pending terminal command set and its approval workflow.
//
// Inbound requests flow through a serialized queue with a single consumer,
// so the auto-execute path reads the committed pending record synchronously
// instead of relying on scheduling order.
type Gateway struct {
	term      TerminalBridge
	responder CommandResponder
	autoExec  func() bool
	cfg       Config
	log       transcript.Logger
	logger    *slog.Logger

	mu       sync.Mutex
	commands map[string]*domain.PendingCommand

	queue chan host.CommandRequest
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewGateway constructs and starts the gateway consumer loop.
func NewGateway(term TerminalBridge, responder CommandResponder, autoExec func() bool, cfg Config, tl transcript.Logger, logger *slog.Logger) *Gateway {
	if autoExec == nil {
		autoExec = func() bool { return false }
	}
	if tl == nil {
		tl = transcript.Noop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandRetention <= 0 {
		cfg.CommandRetention = 5 * time.Second
	}
	if cfg.RejectedRetention <= 0 {
		cfg.RejectedRetention = 2 * time.Second
	}

	g := &Gateway{
		term:      term,
		responder: responder,
		autoExec:  autoExec,
		cfg:       cfg,
		log:       tl,
		logger:    logger,
		commands:  make(map[string]*domain.PendingCommand),
		queue:     make(chan host.CommandRequest, requestQueueSize),
		done:      make(chan struct{}),
	}
	g.wg.Add(1)
	go g.consume()
	return g
}

// Stop shuts the consumer loop down.
func (g *Gateway) Stop() {
	g.once.Do(func() {
		close(g.done)
	})
	g.wg.Wait()
}

// Commands returns a copy of the visible command set, oldest first, safe to
// serialize while transitions continue.
func (g *Gateway) Commands() []domain.PendingCommand {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]domain.PendingCommand, 0, len(g.commands))
	for _, cmd := range g.commands {
		out = append(out, *cmd)
	}
	sortByCreation(out)
	return out
}

// HandleCommandRequest enqueues an inbound request. Called from the host
// bridge read loop; it must not block. When the queue is saturated the
// request is refused with an immediate failure reply so the agent is never
// left hanging.
func (g *Gateway) HandleCommandRequest(req host.CommandRequest) {
	if req.RequestID == "" {
		g.logger.Warn("terminal command request without request_id")
		return
	}
	if !g.term.Connected() {
		g.logger.Warn("terminal command request while disconnected", "request_id", req.RequestID)
		return
	}

	select {
	case g.queue <- req:
	default:
		g.logger.Error("Command queue full, refusing request", "request_id", req.RequestID)
		g.respond(host.CommandResponse{
			RequestID: req.RequestID,
			Success:   false,
			Error:     "command queue is full",
		})
	}
}

func (g *Gateway) consume() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case req := <-g.queue:
			g.process(req)
		}
	}
}

// process commits the pending record and, under auto-execute, immediately
// runs the approval path against the committed state.
func (g *Gateway) process(req host.CommandRequest) {
	g.mu.Lock()
	if _, exists := g.commands[req.RequestID]; exists {
		g.mu.Unlock()
		g.logger.Warn("Duplicate terminal command request", "request_id", req.RequestID)
		return
	}
	cmd := &domain.PendingCommand{
		ID:          req.RequestID,
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		TimeoutSecs: req.TimeoutSecs,
		Status:      domain.CommandPending,
		CreatedAt:   time.Now(),
	}
	g.commands[cmd.ID] = cmd
	g.mu.Unlock()

	g.logger.Info("Terminal command requested",
		"request_id", cmd.ID,
		"command", cmd.Command,
		"auto_execute", g.autoExec(),
	)
	g.log.Log(transcript.Event{
		Channel:    "terminal_gateway",
		Direction:  "inbound",
		EventType:  "command_requested",
		ContentRaw: cmd.Command,
		Meta:       map[string]any{"request_id": cmd.ID, "working_dir": cmd.WorkingDir},
	})

	if g.autoExec() {
		g.Approve(cmd.ID)
	}
}

// Approve executes a pending command. Calling it for an id that is not in
// pending state (unknown, already approved, already terminal) is a no-op,
// so a double approve performs the terminal write at most once.
func (g *Gateway) Approve(id string) {
	g.mu.Lock()
	cmd, ok := g.commands[id]
	if !ok || !cmd.Advance(domain.CommandExecuting, time.Now()) {
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	writeErr := g.term.Write([]byte(cmd.Command + "\n"))

	g.mu.Lock()
	now := time.Now()
	var resp host.CommandResponse
	var advanced bool
	if writeErr != nil {
		advanced = cmd.Advance(domain.CommandFailed, now)
		cmd.Error = writeErr.Error()
		resp = host.CommandResponse{
			RequestID: id,
			Success:   false,
			Error:     "failed to write command to terminal: " + writeErr.Error(),
		}
	} else {
		advanced = cmd.Advance(domain.CommandCompleted, now)
		resp = host.CommandResponse{
			RequestID: id,
			Success:   true,
			Output:    synthesizeOutput(cmd.Command),
		}
	}
	g.mu.Unlock()

	// The reply is bound to the unique first transition into a terminal
	// status; if another path (disconnect) beat us there, it already sent one.
	if !advanced {
		return
	}

	if writeErr != nil {
		g.logger.Error("Terminal command write failed", "request_id", id, "error", writeErr)
	} else {
		g.logger.Info("Terminal command executed", "request_id", id, "command", cmd.Command)
	}
	g.log.Log(transcript.Event{
		Channel:    "terminal_gateway",
		Direction:  "outbound",
		EventType:  "command_executed",
		ContentRaw: cmd.Command,
		Meta:       map[string]any{"request_id": id, "success": writeErr == nil},
	})

	g.respond(resp)
	g.scheduleRemoval(id, g.cfg.CommandRetention)
}

// Reject declines a pending command and replies with a fixed rejection.
func (g *Gateway) Reject(id string) {
	g.mu.Lock()
	cmd, ok := g.commands[id]
	if !ok || !cmd.Advance(domain.CommandRejected, time.Now()) {
		g.mu.Unlock()
		return
	}
	cmd.Error = rejectedByUserMessage
	g.mu.Unlock()

	g.logger.Info("Terminal command rejected", "request_id", id, "command", cmd.Command)
	g.log.Log(transcript.Event{
		Channel:    "terminal_gateway",
		Direction:  "outbound",
		EventType:  "command_rejected",
		ContentRaw: cmd.Command,
		Meta:       map[string]any{"request_id": id},
	})

	g.respond(host.CommandResponse{
		RequestID: id,
		Success:   false,
		Error:     rejectedByUserMessage,
		Rejected:  true,
	})
	g.scheduleRemoval(id, g.cfg.RejectedRetention)
}

// DisconnectTerminal drops every pending command. Commands that never
// reached a terminal status get a rejection reply first, so the agent's
// tool call is not left unanswered by the disconnect.
func (g *Gateway) DisconnectTerminal() {
	g.mu.Lock()
	var replies []host.CommandResponse
	for _, cmd := range g.commands {
		now := time.Now()
		switch cmd.Status {
		case domain.CommandPending:
			if cmd.Advance(domain.CommandRejected, now) {
				cmd.Error = terminalDisconnectedReason
				replies = append(replies, host.CommandResponse{
					RequestID: cmd.ID,
					Success:   false,
					Error:     terminalDisconnectedReason,
					Rejected:  true,
				})
			}
		case domain.CommandExecuting:
			if cmd.Advance(domain.CommandFailed, now) {
				cmd.Error = terminalDisconnectedReason
				replies = append(replies, host.CommandResponse{
					RequestID: cmd.ID,
					Success:   false,
					Error:     terminalDisconnectedReason,
				})
			}
		}
	}
	dropped := len(g.commands)
	g.commands = make(map[string]*domain.PendingCommand)
	g.mu.Unlock()

	for _, resp := range replies {
		g.respond(resp)
	}
	if dropped > 0 {
		g.logger.Info("Terminal disconnected, pending commands dropped",
			"dropped", dropped,
			"replied", len(replies),
		)
	}
}

// respond emits the correlated reply. A failed send is logged loudly; there
// is nothing else local to do, but silence would hide a hung agent tool call.
func (g *Gateway) respond(resp host.CommandResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()
	if err := g.responder.SendTerminalCommandResponse(ctx, resp); err != nil {
		g.logger.Error("Failed to send terminal command response",
			"request_id", resp.RequestID,
			"error", err,
		)
	}
}

// scheduleRemoval retires a terminal-status entry from the visible set after
// the grace period, leaving the UI time to show the outcome. Always called
// after the reply has been sent.
func (g *Gateway) scheduleRemoval(id string, after time.Duration) {
	time.AfterFunc(after, func() {
		g.mu.Lock()
		delete(g.commands, id)
		g.mu.Unlock()
	})
}

// synthesizeOutput describes the outcome so the agent does not re-run the
// command to discover output. A trivial echo gets its literal output; all
// else points at the terminal and scrollback.
func synthesizeOutput(command string) string {
	trimmed := strings.TrimSpace(command)
	if rest, ok := strings.CutPrefix(trimmed, "echo "); ok && !strings.ContainsAny(rest, "$`|&;<>") {
		text := strings.Trim(strings.TrimSpace(rest), `"'`)
		return text + "\n[command executed successfully]"
	}
	return "Command executed in the terminal. [command executed successfully] " +
		"Do not re-run it; read the terminal scrollback if you need its output."
}

func sortByCreation(cmds []domain.PendingCommand) {
	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].CreatedAt.Before(cmds[j].CreatedAt)
	})
}
