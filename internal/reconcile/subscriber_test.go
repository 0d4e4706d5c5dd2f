package reconcile

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	apperrors "github.com/lorrc/taskboard-realtime/internal/core/errors"
)

// recordingHandler collects dispatched envelopes on a channel.
type recordingHandler struct {
	events chan domain.Event
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan domain.Event, 16)}
}

func (h *recordingHandler) OnEvent(_ context.Context, event domain.Event) {
	h.events <- event
}

func (h *recordingHandler) next(t *testing.T) domain.Event {
	t.Helper()
	select {
	case event := <-h.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dispatched event")
		return domain.Event{}
	}
}

// brokerStub is a minimal websocket endpoint: it accepts upgrades, exposes
// each accepted connection, and records the control messages it reads.
type brokerStub struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	dials    atomic.Int32
	conns    chan *websocket.Conn
	controls chan controlFrame

	mu     sync.Mutex
	tokens []string
}

type controlFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

func newBrokerStub(t *testing.T) *brokerStub {
	t.Helper()

	stub := &brokerStub{
		conns:    make(chan *websocket.Conn, 8),
		controls: make(chan controlFrame, 16),
	}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.tokens = append(stub.tokens, r.Header.Get("Authorization"))
		stub.mu.Unlock()

		conn, err := stub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.dials.Add(1)
		stub.conns <- conn

		for {
			var frame controlFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			stub.controls <- frame
		}
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func (b *brokerStub) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *brokerStub) acceptConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("expected an accepted connection")
		return nil
	}
}

func (b *brokerStub) nextControl(t *testing.T) controlFrame {
	t.Helper()
	select {
	case frame := <-b.controls:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("expected a control message")
		return controlFrame{}
	}
}

func newTestSubscriber(t *testing.T, stub *brokerStub, handler EventHandler, clock clockwork.Clock, onConnect func(context.Context)) *Subscriber {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sub := NewSubscriber(SubscriberConfig{
		URL:            stub.url(),
		Token:          "subscriber-token",
		ReconnectDelay: 3 * time.Second,
		Clock:          clock,
		OnConnect:      onConnect,
	}, handler, logger)
	t.Cleanup(sub.Close)
	return sub
}

func TestSubscriber_Dispatch(t *testing.T) {
	t.Run("delivers change envelopes to the handler", func(t *testing.T) {
		stub := newBrokerStub(t)
		handler := newRecordingHandler()
		sub := newTestSubscriber(t, stub, handler, clockwork.NewFakeClock(), nil)
		sub.Start()

		conn := stub.acceptConn(t)
		payload := `{"type":"task.changed","action":"status","taskId":7,"updatedAt":"2024-01-01T00:00:00.000Z"}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

		event := handler.next(t)
		assert.Equal(t, domain.ActionStatus, event.Action)
		assert.Equal(t, int64(7), event.TaskID)
	})

	t.Run("presents the bearer token at upgrade", func(t *testing.T) {
		stub := newBrokerStub(t)
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clockwork.NewFakeClock(), nil)
		sub.Start()

		stub.acceptConn(t)
		stub.mu.Lock()
		defer stub.mu.Unlock()
		require.NotEmpty(t, stub.tokens)
		assert.Equal(t, "Bearer subscriber-token", stub.tokens[0])
	})

	t.Run("survives acks, unknown types and malformed frames", func(t *testing.T) {
		stub := newBrokerStub(t)
		handler := newRecordingHandler()
		sub := newTestSubscriber(t, stub, handler, clockwork.NewFakeClock(), nil)
		sub.Start()

		conn := stub.acceptConn(t)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","userId":"x"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"presence.changed"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task.changed","action":"create","taskId":1,"updatedAt":"2024-01-01T00:00:00.000Z"}`)))

		// Only the real envelope reaches the handler.
		event := handler.next(t)
		assert.Equal(t, domain.ActionCreate, event.Action)
		assert.Empty(t, handler.events)
	})
}

func TestSubscriber_Reconnect(t *testing.T) {
	t.Run("redials once per drop after the fixed delay", func(t *testing.T) {
		stub := newBrokerStub(t)
		clock := clockwork.NewFakeClock()
		var connects atomic.Int32
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clock, func(context.Context) {
			connects.Add(1)
		})
		sub.Start()

		conn := stub.acceptConn(t)
		require.Eventually(t, func() bool { return connects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

		// Drop the transport; the subscriber arms exactly one reconnect timer.
		_ = conn.Close()
		clock.BlockUntil(1)

		clock.Advance(3 * time.Second)
		stub.acceptConn(t)

		require.Eventually(t, func() bool { return connects.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, int32(2), stub.dials.Load())
	})

	t.Run("restores remembered rooms on the new transport", func(t *testing.T) {
		stub := newBrokerStub(t)
		clock := clockwork.NewFakeClock()

		// Remembered before any transport exists.
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clock, nil)
		err := sub.Subscribe("project:9")
		require.ErrorIs(t, err, apperrors.ErrNotConnected)

		sub.Start()
		conn := stub.acceptConn(t)

		frame := stub.nextControl(t)
		assert.Equal(t, controlFrame{Type: "subscribe", Room: "project:9"}, frame)

		// Live subscription to a second room, then a drop.
		require.Eventually(t, func() bool {
			return sub.Subscribe("project:12") == nil
		}, 2*time.Second, 10*time.Millisecond)
		stub.nextControl(t)

		_ = conn.Close()
		clock.BlockUntil(1)
		clock.Advance(3 * time.Second)
		stub.acceptConn(t)

		// Both rooms come back, in no particular order.
		restored := map[string]bool{}
		for i := 0; i < 2; i++ {
			frame := stub.nextControl(t)
			assert.Equal(t, "subscribe", frame.Type)
			restored[frame.Room] = true
		}
		assert.True(t, restored["project:9"])
		assert.True(t, restored["project:12"])
	})

	t.Run("unsubscribe forgets the room across reconnects", func(t *testing.T) {
		stub := newBrokerStub(t)
		clock := clockwork.NewFakeClock()
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clock, nil)
		sub.Start()

		conn := stub.acceptConn(t)
		require.Eventually(t, func() bool {
			return sub.Subscribe("project:9") == nil
		}, 2*time.Second, 10*time.Millisecond)
		stub.nextControl(t)

		require.NoError(t, sub.Unsubscribe("project:9"))
		stub.nextControl(t)

		_ = conn.Close()
		clock.BlockUntil(1)
		clock.Advance(3 * time.Second)
		stub.acceptConn(t)

		// No subscribe is replayed for the forgotten room.
		select {
		case frame := <-stub.controls:
			t.Fatalf("unexpected control message after reconnect: %+v", frame)
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestSubscriber_Close(t *testing.T) {
	t.Run("cancels a pending reconnect", func(t *testing.T) {
		stub := newBrokerStub(t)
		clock := clockwork.NewFakeClock()
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clock, nil)
		sub.Start()

		conn := stub.acceptConn(t)
		_ = conn.Close()
		clock.BlockUntil(1)

		done := make(chan struct{})
		go func() {
			sub.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Close did not cancel the pending reconnect")
		}
		assert.Equal(t, int32(1), stub.dials.Load())
	})

	t.Run("is idempotent", func(t *testing.T) {
		stub := newBrokerStub(t)
		sub := newTestSubscriber(t, stub, newRecordingHandler(), clockwork.NewFakeClock(), nil)
		sub.Start()
		stub.acceptConn(t)

		sub.Close()
		sub.Close()
	})
}

func TestSubscriber_RefetchOnConnect(t *testing.T) {
	// Wiring Engine.Refetch as OnConnect bounds staleness to the outage window:
	// the first connect and every reconnect pull a canonical snapshot.
	stub := newBrokerStub(t)
	clock := clockwork.NewFakeClock()

	svc := newFakeTaskService(task(1, domain.StatusTodo))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := NewEngine(svc, logger)
	t.Cleanup(engine.Close)

	sub := newTestSubscriber(t, stub, engine, clock, func(ctx context.Context) {
		engine.RequestRefetch(ctx)
	})
	sub.Start()
	stub.acceptConn(t)

	require.Eventually(t, func() bool {
		_, ok := engine.Task(1)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
