package termgw

import "github.com/agentdeck/agentdeck/internal/host"

// Service bundles the command gateway and the scrollback responder into the
// single handler set the host bridge attaches while a terminal is live.
type Service struct {
	Gateway   *Gateway
	Responder *Responder
}

// NewService wires the two listeners together.
func NewService(gateway *Gateway, responder *Responder) *Service {
	return &Service{Gateway: gateway, Responder: responder}
}

// HandleCommandRequest implements host.TerminalRequests.
func (s *Service) HandleCommandRequest(req host.CommandRequest) {
	s.Gateway.HandleCommandRequest(req)
}

// HandleScrollbackRequest implements host.TerminalRequests.
func (s *Service) HandleScrollbackRequest(req host.ScrollbackRequest) {
	s.Responder.HandleScrollbackRequest(req)
}
