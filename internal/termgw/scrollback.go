package termgw

import (
	"context"
	"log/slog"
	"strings"

	"github.com/agentdeck/agentdeck/internal/host"
)

// ScrollbackSource reads the retained terminal output as lines.
type ScrollbackSource interface {
	Lines() ([]string, error)
}

// ScrollbackResponder answers agent scrollback reads. Replies carry the
// clamped window actually returned, never the window asked for, so the agent
// can page reliably off total_lines/line_end.
type ScrollbackResponder interface {
	SendTermScrollbackResponse(ctx context.Context, resp host.ScrollbackResponse) error
}

// Responder serves term_get_scrollback requests against the live terminal.
type Responder struct {
	source    ScrollbackSource
	sender    ScrollbackResponder
	pageLines int
	logger    *slog.Logger
}

// NewResponder creates a scrollback responder with the given default page size.
func NewResponder(source ScrollbackSource, sender ScrollbackResponder, pageLines int, logger *slog.Logger) *Responder {
	if pageLines <= 0 {
		pageLines = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		source:    source,
		sender:    sender,
		pageLines: pageLines,
		logger:    logger,
	}
}

// HandleScrollbackRequest replies to a single read. Every request id gets
// exactly one reply: a clamped window, an explicit empty success when no
// output is retained, or a failure when the read itself fails.
func (r *Responder) HandleScrollbackRequest(req host.ScrollbackRequest) {
	if req.RequestID == "" {
		r.logger.Warn("scrollback request without request_id")
		return
	}

	lines, err := r.source.Lines()
	if err != nil {
		r.logger.Warn("Scrollback read failed", "request_id", req.RequestID, "error", err)
		r.respond(host.ScrollbackResponse{
			RequestID: req.RequestID,
			Success:   false,
			Error:     "failed to read terminal scrollback: " + err.Error(),
		})
		return
	}

	total := len(lines)
	if total == 0 {
		r.respond(host.ScrollbackResponse{
			RequestID:  req.RequestID,
			Success:    true,
			TotalLines: 0,
			LineStart:  0,
			LineEnd:    0,
			Content:    "",
			HasMore:    false,
		})
		return
	}

	count := r.pageLines
	if req.Count != nil && *req.Count > 0 {
		count = *req.Count
	}

	start := 0
	if req.LineStart != nil {
		start = *req.LineStart
	}
	if start < 0 {
		start = 0
	}
	if start > total-1 {
		start = total - 1
	}

	end := start + count
	if end > total {
		end = total
	}

	r.respond(host.ScrollbackResponse{
		RequestID:  req.RequestID,
		Success:    true,
		TotalLines: total,
		LineStart:  start,
		LineEnd:    end,
		Content:    strings.Join(lines[start:end], "\n"),
		HasMore:    end < total,
	})
}

func (r *Responder) respond(resp host.ScrollbackResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()
	if err := r.sender.SendTermScrollbackResponse(ctx, resp); err != nil {
		r.logger.Error("Failed to send scrollback response",
			"request_id", resp.RequestID,
			"error", err,
		)
	}
}
