package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/walink/internal/domain"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Frame types spoken with the gateway.
const (
	frameHello      = "hello"
	frameChallenge  = "challenge"
	frameOpen       = "open"
	frameCreds      = "creds"
	frameMessage    = "message"
	frameClose      = "close"
	frameSend       = "send"
	framePair       = "pair"
	framePairing    = "pairing"
	frameLogout     = "logout"
	frameError      = "error"
	eventBufferSize = 32
)

// frame is the JSON envelope for every gateway message, in both directions.
type frame struct {
	ID         string                  `json:"id,omitempty"`
	Type       string                  `json:"type"`
	Challenge  string                  `json:"challenge,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	Creds      []byte                  `json:"creds,omitempty"`
	Registered bool                    `json:"registered,omitempty"`
	ChatID     string                  `json:"chat_id,omitempty"`
	Text       string                  `json:"text,omitempty"`
	Phone      string                  `json:"phone,omitempty"`
	Code       string                  `json:"code,omitempty"`
	Message    *domain.OutboundMessage `json:"message,omitempty"`
}

// GatewayDialer dials the remote chat gateway over websocket.
type GatewayDialer struct {
	url string
}

// NewGatewayDialer creates a dialer for the given gateway URL.
func NewGatewayDialer(url string) *GatewayDialer {
	return &GatewayDialer{url: url}
}

// Dial opens a websocket to the gateway, announces the session with its
// persisted credentials, and starts the read loop.
func (d *GatewayDialer) Dial(ctx context.Context, sessionID string, creds *domain.CredentialRecord) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", d.url, err)
	}
	// Media payloads can exceed the 32KiB default.
	ws.SetReadLimit(16 << 20)

	c := &gatewayConn{
		sessionID: sessionID,
		ws:        ws,
		events:    make(chan Event, eventBufferSize),
		pending:   make(map[string]chan frame),
	}

	hello := frame{
		Type:       frameHello,
		ID:         sessionID,
		Creds:      creds.Data,
		Registered: creds.Registered,
	}
	if err := c.write(ctx, hello); err != nil {
		_ = ws.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("announce session %s: %w", sessionID, err)
	}

	go c.readLoop()

	return c, nil
}

// gatewayConn is one live websocket connection to the gateway.
type gatewayConn struct {
	sessionID string
	ws        *websocket.Conn
	events    chan Event

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame // in-flight request/response frames by id
	closed  bool
}

// Events returns the event stream for this connection.
func (c *gatewayConn) Events() <-chan Event {
	return c.events
}

// readLoop decodes gateway frames into events until the socket closes. It
// always delivers a CloseEvent before closing the event channel.
func (c *gatewayConn) readLoop() {
	reason := "connection error"
	for {
		_, data, err := c.ws.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Gateway socket closed", "session_id", c.sessionID)
			} else {
				slog.Warn("Gateway read error", "session_id", c.sessionID, "error", err)
			}
			break
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("Undecodable gateway frame", "session_id", c.sessionID, "error", err)
			continue
		}

		switch f.Type {
		case frameChallenge:
			c.events <- ChallengeEvent{Challenge: f.Challenge}
		case frameOpen:
			c.events <- OpenEvent{}
		case frameCreds:
			c.events <- CredentialsEvent{Data: f.Creds, Registered: f.Registered}
		case frameMessage:
			c.events <- MessageEvent{Inbound: domain.InboundEvent{ChatID: f.ChatID, Text: f.Text}}
		case frameClose:
			if f.Reason != "" {
				reason = f.Reason
			}
			// Gateway closes the socket after this frame; keep reading
			// until Read returns the close error.
		case framePairing, frameError:
			c.resolve(f)
		default:
			slog.Debug("Ignoring unknown gateway frame", "session_id", c.sessionID, "type", f.Type)
		}
	}

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	// A consumer that stopped reading would block the final send forever;
	// drop the event in that case, the channel close still ends the stream.
	select {
	case c.events <- CloseEvent{Reason: reason}:
	default:
		slog.Debug("Dropping close event, consumer gone", "session_id", c.sessionID)
	}
	close(c.events)
}

func (c *gatewayConn) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *gatewayConn) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// request writes a frame carrying a correlation id and waits for the
// matching response.
func (c *gatewayConn) request(ctx context.Context, f frame) (frame, error) {
	f.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, fmt.Errorf("connection closed")
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.write(ctx, f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, fmt.Errorf("connection closed awaiting response")
		}
		if resp.Type == frameError {
			return frame{}, fmt.Errorf("gateway error: %s", resp.Reason)
		}
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, ctx.Err()
	}
}

// SendMessage sends an outbound message to a chat.
func (c *gatewayConn) SendMessage(ctx context.Context, chatID string, msg domain.OutboundMessage) error {
	if err := c.write(ctx, frame{Type: frameSend, ChatID: chatID, Message: &msg}); err != nil {
		return fmt.Errorf("send %s message to %s: %w", msg.Kind, chatID, err)
	}
	return nil
}

// RequestPairingCode asks the gateway for a raw pairing code.
func (c *gatewayConn) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.request(ctx, frame{Type: framePair, Phone: phoneNumber})
	if err != nil {
		return "", fmt.Errorf("request pairing code: %w", err)
	}
	return resp.Code, nil
}

// Logout asks the gateway to unlink the device.
func (c *gatewayConn) Logout(ctx context.Context) error {
	if err := c.write(ctx, frame{Type: frameLogout}); err != nil {
		return fmt.Errorf("send logout: %w", err)
	}
	return nil
}

// Close tears the socket down without unlinking.
func (c *gatewayConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}
