package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// ID identifies this connection in logs.
	ID uuid.UUID

	// identity is the authenticated subject bound at upgrade time.
	identity domain.Identity

	// send carries pre-marshaled outbound frames. Envelopes are relayed
	// verbatim, so marshaling happens once per broadcast, not per client.
	send chan []byte

	// probe wakes the write pump to send a liveness ping.
	probe chan struct{}

	// sendMu guards closed so a concurrent fan-out cannot write to a
	// closed send channel.
	sendMu sync.Mutex
	closed bool

	closeOnce sync.Once

	logger *slog.Logger
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, identity domain.Identity, logger *slog.Logger) *Client {
	id := uuid.New()
	return &Client{
		hub:      hub,
		conn:     conn,
		ID:       id,
		identity: identity,
		send:     make(chan []byte, 256),
		probe:    make(chan struct{}, 1),
		logger: logger.With(
			"connection_id", id.String(),
			"user_id", identity.UserID.String(),
		),
	}
}

// Identity returns the authenticated subject for this connection.
func (c *Client) Identity() domain.Identity {
	return c.identity
}

// CloseSend closes the send channel exactly once. The write pump reacts by
// sending a close frame and exiting.
func (c *Client) CloseSend() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closed = true
		close(c.send)
		c.sendMu.Unlock()
	})
}

// ForceClose tears the transport down immediately, unblocking both pumps.
func (c *Client) ForceClose() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
}

// trySend queues a frame without blocking. It reports false when the client
// is closed or its buffer is full; the hub treats that as an implicit
// disconnect for this connection only.
func (c *Client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Probe wakes the write pump to ping the peer. Non-blocking: a probe already
// in flight is enough.
func (c *Client) Probe() {
	select {
	case c.probe <- struct{}{}:
	default:
	}
}

// SendConnected queues the acknowledgement emitted once after a successful
// authenticated upgrade.
func (c *Client) SendConnected() {
	ack := struct {
		Type   string  `json:"type"`
		UserID string  `json:"userId"`
		Email  *string `json:"email"`
	}{
		Type:   "connected",
		UserID: c.identity.UserID.String(),
	}
	if c.identity.Email != "" {
		ack.Email = &c.identity.Email
	}

	payload, err := json.Marshal(ack)
	if err != nil {
		c.logger.Error("failed to marshal connected ack", "error", err)
		return
	}
	c.trySend(payload)
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.notifyClose(c)
		_ = c.conn.Close()
	}()

	readWait := 3 * c.hub.heartbeat

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		c.hub.registry.MarkAlive(c)
		if err := c.conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		// Any inbound frame proves the peer is alive, not just pongs.
		c.hub.registry.MarkAlive(c)
		c.handleControlMessage(message)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The hub closed the channel. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-c.probe:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// --- Incoming Message Handling ---

// controlMessage is the structure for messages sent from the client.
type controlMessage struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// handleControlMessage processes messages received from the client. Malformed
// or unrecognized input is discarded; bad input must never crash the handler.
func (c *Client) handleControlMessage(message []byte) {
	var msg controlMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal control message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		if msg.Room == "" {
			c.logger.Warn("subscribe request without a room")
			return
		}
		c.hub.Subscribe(c, msg.Room)

	case "unsubscribe":
		if msg.Room == "" {
			c.logger.Warn("unsubscribe request without a room")
			return
		}
		c.hub.Unsubscribe(c, msg.Room)

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}
}
