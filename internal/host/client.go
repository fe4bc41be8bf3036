package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var (
	// ErrClosed is returned for calls issued after the bridge went away.
	ErrClosed = errors.New("host bridge closed")

	errNoSessionID = errors.New("host returned empty session id")
)

// Client is the bridge to the agent host process.
type Client struct {
	conn    *websocket.Conn
	bus     *bus.Bus
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan Frame

	handlersMu sync.RWMutex
	handlers   TerminalRequests

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the host process and starts the inbound read loop.
// It fails fast so startup can disable agent features on a bad endpoint.
func Dial(ctx context.Context, addr string, b *bus.Bus, callTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}

	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial host bridge at %s: %w", addr, err)
	}
	// Scrollback pages and streamed tool results can be large.
	conn.SetReadLimit(4 << 20)

	c := &Client{
		conn:    conn,
		bus:     b,
		logger:  logger,
		timeout: callTimeout,
		pending: make(map[string]chan Frame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()

	logger.Info("Connected to agent host bridge", "address", addr)
	return c, nil
}

// Close tears the bridge down and fails every in-flight call.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.conn.Close(websocket.StatusNormalClosure, "shutting down"); err != nil {
			c.logger.Debug("failed to close host bridge connection", "error", err)
		}
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	})
}

// SetTerminalHandlers attaches the command/scrollback request handlers.
// Called when a terminal session connects.
func (c *Client) SetTerminalHandlers(h TerminalRequests) {
	c.handlersMu.Lock()
	c.handlers = h
	c.handlersMu.Unlock()
}

// ClearTerminalHandlers detaches terminal handlers on disconnect. Requests
// arriving while detached are dropped.
func (c *Client) ClearTerminalHandlers() {
	c.handlersMu.Lock()
	c.handlers = nil
	c.handlersMu.Unlock()
}

// CreateAgentSession asks the host to construct a conversation and returns
// its session id.
func (c *Client) CreateAgentSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	result, err := c.call(ctx, callCreateSession, req)
	if err != nil {
		return "", err
	}
	var res createSessionResult
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("decode create_agent_session result: %w", err)
	}
	if res.SessionID == "" {
		return "", errNoSessionID
	}
	return res.SessionID, nil
}

// DeleteAgentSession drops a conversation on the host side.
func (c *Client) DeleteAgentSession(ctx context.Context, sessionID string) error {
	_, err := c.call(ctx, callDeleteSession, map[string]string{"session_id": sessionID})
	return err
}

// SendMessageStream starts a streamed reply; events for it arrive on the bus
// under the channel named in the request.
func (c *Client) SendMessageStream(ctx context.Context, req SendMessageStreamRequest) error {
	_, err := c.call(ctx, callSendMessageStream, req)
	return err
}

// SendTerminalCommandResponse emits the correlated reply for a command request.
func (c *Client) SendTerminalCommandResponse(ctx context.Context, resp CommandResponse) error {
	return c.notify(ctx, notifyCommandResponse, resp)
}

// SendTermScrollbackResponse emits the correlated reply for a scrollback request.
func (c *Client) SendTermScrollbackResponse(ctx context.Context, resp ScrollbackResponse) error {
	return c.notify(ctx, notifyScrollbackResponse, resp)
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	id := uuid.NewString()
	reply := make(chan Frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.writeFrame(ctx, Frame{ID: id, Call: method, Params: raw}); err != nil {
		return nil, fmt.Errorf("send %s call: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s call: %w", method, ctx.Err())
	case frame, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("%s call failed: %s", method, frame.Error)
		}
		return frame.Result, nil
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	if err := c.writeFrame(ctx, Frame{Notify: method, Params: raw}); err != nil {
		return fmt.Errorf("send %s notification: %w", method, err)
	}
	return nil
}

func (c *Client) writeFrame(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.CloseStatus(err) != -1 {
					c.logger.Info("Host bridge closed by peer")
				} else {
					c.logger.Warn("Host bridge read error", "error", err)
				}
				c.Close()
			}
			return
		}
		c.dispatchFrame(data)
	}
}

// dispatchFrame routes one inbound frame: call replies to their waiter, chat
// stream events onto the bus, terminal requests to the attached handlers.
// Malformed frames are logged and dropped; they have no awaiting correlation
// on our side.
func (c *Client) dispatchFrame(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("Malformed host bridge frame", "error", err)
		return
	}

	if frame.Event == "" {
		if frame.ID == "" {
			c.logger.Warn("Host bridge frame without event or id")
			return
		}
		c.pendingMu.Lock()
		reply, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Warn("Reply for unknown call id", "id", frame.ID)
			return
		}
		reply <- frame
		return
	}

	switch frame.Event {
	case eventChatStream:
		if frame.Channel == "" {
			c.logger.Warn("chat_stream event without channel")
			return
		}
		c.bus.Publish(frame.Channel, frame.Payload)
	case eventCommandRequest:
		var req CommandRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.logger.Warn("Malformed terminal_command_request", "error", err)
			return
		}
		c.handlersMu.RLock()
		h := c.handlers
		c.handlersMu.RUnlock()
		if h == nil {
			c.logger.Warn("terminal_command_request with no terminal connected", "request_id", req.RequestID)
			return
		}
		h.HandleCommandRequest(req)
	case eventScrollbackRequest:
		var req ScrollbackRequest
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			c.logger.Warn("Malformed term_get_scrollback_request", "error", err)
			return
		}
		c.handlersMu.RLock()
		h := c.handlers
		c.handlersMu.RUnlock()
		if h == nil {
			c.logger.Warn("term_get_scrollback_request with no terminal connected", "request_id", req.RequestID)
			return
		}
		h.HandleScrollbackRequest(req)
	default:
		c.logger.Warn("Unknown host bridge event", "event", frame.Event)
	}
}
