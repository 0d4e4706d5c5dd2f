package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	apperrors "github.com/lorrc/taskboard-realtime/internal/core/errors"
)

// EventHandler consumes envelopes received over the subscription.
type EventHandler interface {
	OnEvent(ctx context.Context, event domain.Event)
}

// SubscriberConfig configures a broker subscription.
type SubscriberConfig struct {
	// URL is the broker's websocket endpoint (ws:// or wss://).
	URL string

	// Token is the identity token presented at upgrade time.
	Token string

	// ReconnectDelay is the fixed wait before the single reconnect attempt
	// scheduled after a transport drop. Defaults to 3s.
	ReconnectDelay time.Duration

	// Clock is injectable for tests. Defaults to the real clock.
	Clock clockwork.Clock

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// OnConnect runs after every successful (re)connect, before events flow.
	// Wiring Engine.Refetch here bounds staleness to one outage window;
	// events missed while disconnected are never replayed.
	OnConnect func(ctx context.Context)
}

// Subscriber maintains exactly one live subscription to the broker. On
// transport close it schedules a single reconnect attempt after a fixed delay
// and repeats until torn down; Close cancels any pending reconnect timer and
// closes the open transport, so no orphaned timers survive teardown.
type Subscriber struct {
	cfg     SubscriberConfig
	handler EventHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	rooms  map[string]struct{}
	closed bool

	writeMu sync.Mutex

	wg sync.WaitGroup
}

// NewSubscriber creates a subscriber; call Start to open the subscription.
func NewSubscriber(cfg SubscriberConfig, handler EventHandler, logger *slog.Logger) *Subscriber {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "realtime_subscriber"),
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]struct{}),
	}
}

// Start opens the subscription loop in its own goroutine.
func (s *Subscriber) Start() {
	s.wg.Add(1)
	go s.run()
}

// Close tears the subscription down: the reconnect timer is cancelled, the
// open transport is closed, and the loop goroutine is joined.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
}

// Subscribe joins a room, now and after every reconnect.
func (s *Subscriber) Subscribe(room string) error {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// The room is remembered; the control message goes out on connect.
		return apperrors.ErrNotConnected
	}
	return s.writeControl(conn, "subscribe", room)
}

// Unsubscribe leaves a room.
func (s *Subscriber) Unsubscribe(room string) error {
	s.mu.Lock()
	delete(s.rooms, room)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return apperrors.ErrNotConnected
	}
	return s.writeControl(conn, "unsubscribe", room)
}

func (s *Subscriber) run() {
	defer s.wg.Done()

	for {
		if err := s.connectAndRead(); err != nil {
			s.logger.Warn("subscription dropped", "error", err)
		}

		// One reconnect attempt per drop, cancellable as a unit on teardown.
		select {
		case <-s.ctx.Done():
			return
		case <-s.cfg.Clock.After(s.cfg.ReconnectDelay):
		}
	}
}

func (s *Subscriber) connectAndRead() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)

	conn, resp, err := s.cfg.Dialer.DialContext(s.ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.logger.Info("subscription established")

	// Restore room memberships lost with the previous transport.
	for _, room := range rooms {
		if err := s.writeControl(conn, "subscribe", room); err != nil {
			return err
		}
	}

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(s.ctx)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(payload)
	}
}

func (s *Subscriber) dispatch(payload []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		s.logger.Warn("discarding malformed frame", "error", err)
		return
	}

	switch probe.Type {
	case "connected":
		s.logger.Debug("identity acknowledged by broker")

	case domain.EventTaskChanged:
		var event domain.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			s.logger.Warn("discarding malformed envelope", "error", err)
			return
		}
		s.handler.OnEvent(s.ctx, event)

	default:
		s.logger.Debug("ignoring unknown frame type", "type", probe.Type)
	}
}

func (s *Subscriber) writeControl(conn *websocket.Conn, msgType, room string) error {
	msg := struct {
		Type string `json:"type"`
		Room string `json:"room"`
	}{Type: msgType, Room: room}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}
