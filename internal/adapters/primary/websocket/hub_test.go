package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

func newTestHub() *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(30*time.Second, clockwork.NewFakeClock(), logger)
}

func drainOne(t *testing.T, c *Client) domain.Event {
	t.Helper()

	select {
	case payload := <-c.send:
		var event domain.Event
		require.NoError(t, json.Unmarshal(payload, &event))
		return event
	default:
		t.Fatal("expected a queued envelope")
		return domain.Event{}
	}
}

func TestHub_Publish(t *testing.T) {
	t.Run("reaches every global subscriber", func(t *testing.T) {
		hub := newTestHub()
		a := newTestClient()
		b := newTestClient()
		hub.attach(a)
		hub.attach(b)

		event := domain.NewTaskChanged(domain.ActionStatus, 42, time.Now())
		recipients := hub.Publish(event)

		assert.Equal(t, 2, recipients)
		assert.Equal(t, domain.ActionStatus, drainOne(t, a).Action)
		assert.Equal(t, int64(42), drainOne(t, b).TaskID)
	})

	t.Run("scopes delivery to the target room", func(t *testing.T) {
		hub := newTestHub()
		member := newTestClient()
		outsider := newTestClient()
		hub.attach(member)
		hub.attach(outsider)
		hub.Subscribe(member, "project:9")

		event := domain.NewTaskChanged(domain.ActionAssign, 7, time.Now())
		event.Room = "project:9"
		recipients := hub.Publish(event)

		assert.Equal(t, 1, recipients)
		assert.Equal(t, "project:9", drainOne(t, member).Room)
		assert.Empty(t, outsider.send)
	})

	t.Run("user room reaches only that user", func(t *testing.T) {
		hub := newTestHub()
		a := newTestClient()
		b := newTestClient()
		hub.attach(a)
		hub.attach(b)

		event := domain.NewTaskChanged(domain.ActionUpdate, 3, time.Now())
		event.Room = domain.UserRoom(a.identity.UserID)
		recipients := hub.Publish(event)

		assert.Equal(t, 1, recipients)
		assert.Empty(t, b.send)
	})

	t.Run("failed send evicts only that connection", func(t *testing.T) {
		hub := newTestHub()
		healthy := newTestClient()
		broken := newTestClient()
		hub.attach(healthy)
		hub.attach(broken)

		// A closed send channel stands in for a peer whose buffer backed up.
		broken.CloseSend()

		event := domain.NewTaskChanged(domain.ActionDelete, 1, time.Now())
		recipients := hub.Publish(event)

		assert.Equal(t, 1, recipients)
		assert.Equal(t, 1, hub.ClientCount())
		drainOne(t, healthy)
	})

	t.Run("empty registry reports zero recipients", func(t *testing.T) {
		hub := newTestHub()
		event := domain.NewTaskChanged(domain.ActionCreate, 5, time.Now())
		assert.Zero(t, hub.Publish(event))
	})
}

func TestHub_BroadcastQueues(t *testing.T) {
	hub := newTestHub()
	c := newTestClient()
	hub.attach(c)

	go hub.Run()
	defer hub.Shutdown()

	event := domain.NewTaskChanged(domain.ActionStatus, 42, time.Now())
	require.NoError(t, hub.Broadcast(event))

	assert.Eventually(t, func() bool {
		return len(c.send) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub := newTestHub()
	a := newTestClient()
	b := newTestClient()
	hub.attach(a)
	hub.attach(b)

	hub.Shutdown()

	assert.Equal(t, 0, hub.ClientCount())
	// Send channels are closed so write pumps emit close frames and exit.
	_, okA := <-a.send
	_, okB := <-b.send
	assert.False(t, okA)
	assert.False(t, okB)
}
