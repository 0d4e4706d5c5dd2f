package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	"github.com/lorrc/taskboard-realtime/internal/core/ports"
	"github.com/lorrc/taskboard-realtime/internal/metrics"
)

// Hub owns the connection registry, fans events out to matching connections
// and evicts dead ones on a fixed heartbeat.
type Hub struct {
	registry *Registry

	// Register requests from upgraded connections
	Register chan *Client

	// Unregister requests from closing connections
	Unregister chan *Client

	// broadcast carries fire-and-forget events into the run loop
	broadcast chan domain.Event

	heartbeat time.Duration
	clock     clockwork.Clock

	done     chan struct{}
	stopOnce sync.Once

	logger *slog.Logger
}

// Ensure Hub implements the EventBroadcaster interface.
var _ ports.EventBroadcaster = (*Hub)(nil)

// NewHub creates a hub sweeping at the given heartbeat interval. The clock is
// injectable so sweeps can be driven deterministically in tests.
func NewHub(heartbeat time.Duration, clock clockwork.Clock, logger *slog.Logger) *Hub {
	return &Hub{
		registry:   NewRegistry(),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan domain.Event, 256),
		heartbeat:  heartbeat,
		clock:      clock,
		done:       make(chan struct{}),
		logger:     logger.With("component", "realtime_hub"),
	}
}

// Run starts the hub's event loop. This MUST be run as a goroutine.
func (h *Hub) Run() {
	ticker := h.clock.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.Register:
			h.attach(client)

		case client := <-h.Unregister:
			h.detach(client)

		case event := <-h.broadcast:
			h.Publish(event)

		case <-ticker.Chan():
			h.sweep()

		case <-h.done:
			return
		}
	}
}

// Broadcast queues an event for asynchronous fan-out. This method implements
// the ports.EventBroadcaster interface.
func (h *Hub) Broadcast(event domain.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"action", event.Action,
			"task_id", event.TaskID,
		)
		return nil
	}
}

// Publish fans an event out to every connection currently subscribed to its
// target room and returns the recipient count. The envelope is marshaled once
// and relayed verbatim; a send failure on one connection evicts only that
// connection and never aborts delivery to the others.
func (h *Hub) Publish(event domain.Event) int {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return 0
	}

	room := event.TargetRoom()

	var recipients int
	var failed []*Client
	h.registry.ForEachInRoom(room, func(c *Client) {
		if c.trySend(payload) {
			recipients++
			metrics.EventsDelivered.Inc()
			return
		}
		failed = append(failed, c)
	})

	for _, c := range failed {
		h.logger.Warn("client send buffer full, evicting",
			"connection_id", c.ID.String(),
			"user_id", c.identity.UserID.String(),
		)
		h.evict(c, "slow")
	}

	h.logger.Debug("event published",
		"action", event.Action,
		"task_id", event.TaskID,
		"room", room,
		"recipients", recipients,
	)

	return recipients
}

// Subscribe adds the client to a room.
func (h *Hub) Subscribe(c *Client, room string) {
	h.registry.Subscribe(c, room)
	c.logger.Debug("subscribed to room", "room", room)
}

// Unsubscribe removes the client from a room; mandatory rooms are kept.
func (h *Hub) Unsubscribe(c *Client, room string) {
	h.registry.Unsubscribe(c, room)
	c.logger.Debug("unsubscribed from room", "room", room)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.registry.ClientCount()
}

// Shutdown stops the run loop and closes every live connection with a close
// frame. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)

		for _, c := range h.registry.Clients() {
			h.detach(c)
		}
		h.logger.Info("hub shut down")
	})
}

// attach registers a connection; the mandatory rooms are joined by the
// registry itself.
func (h *Hub) attach(c *Client) {
	h.registry.Register(c)
	metrics.ConnectedClients.Set(float64(h.registry.ClientCount()))

	h.logger.Info("client registered",
		"connection_id", c.ID.String(),
		"user_id", c.identity.UserID.String(),
		"total_connections", h.registry.ClientCount(),
	)
}

// detach removes a connection after a clean close. Idempotent: eviction and
// read-pump exit may both report the same connection.
func (h *Hub) detach(c *Client) {
	if !h.registry.Remove(c) {
		return
	}
	metrics.ConnectedClients.Set(float64(h.registry.ClientCount()))
	c.CloseSend()

	h.logger.Info("client unregistered",
		"connection_id", c.ID.String(),
		"user_id", c.identity.UserID.String(),
	)
}

// evict force-closes a connection that failed a send or a liveness probe.
func (h *Hub) evict(c *Client, reason string) {
	if h.registry.Remove(c) {
		metrics.ConnectedClients.Set(float64(h.registry.ClientCount()))
		metrics.ClientsEvicted.WithLabelValues(reason).Inc()
	}
	c.CloseSend()
	c.ForceClose()
}

// sweep runs once per heartbeat: connections that never confirmed liveness
// since the previous sweep are evicted, survivors are reset to unconfirmed
// and probed.
func (h *Hub) sweep() {
	dead, survivors := h.registry.SweepDead()

	for _, c := range dead {
		h.logger.Warn("evicting dead connection",
			"connection_id", c.ID.String(),
			"user_id", c.identity.UserID.String(),
		)
		metrics.ConnectedClients.Set(float64(h.registry.ClientCount()))
		metrics.ClientsEvicted.WithLabelValues("dead").Inc()
		c.CloseSend()
		c.ForceClose()
	}

	for _, c := range survivors {
		c.Probe()
	}
}

// notifyClose reports a closing connection to the run loop without blocking
// past shutdown.
func (h *Hub) notifyClose(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}
