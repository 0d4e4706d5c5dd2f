package websocket

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

func newTestClient() *Client {
	identity := domain.Identity{UserID: uuid.New()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(nil, nil, identity, logger)
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	c := newTestClient()

	reg.Register(c)

	assert.Equal(t, 1, reg.ClientCount())
	rooms := reg.Rooms(c)
	assert.ElementsMatch(t, []string{domain.GlobalRoom, domain.UserRoom(c.identity.UserID)}, rooms)

	t.Run("is idempotent", func(t *testing.T) {
		reg.Register(c)
		assert.Equal(t, 1, reg.ClientCount())
	})
}

func TestRegistry_SubscribeUnsubscribe(t *testing.T) {
	reg := NewRegistry()
	c := newTestClient()
	reg.Register(c)

	reg.Subscribe(c, "project:9")
	assert.Equal(t, 1, reg.InRoom("project:9"))

	reg.Unsubscribe(c, "project:9")
	assert.Equal(t, 0, reg.InRoom("project:9"))

	t.Run("mandatory rooms cannot be left", func(t *testing.T) {
		reg.Unsubscribe(c, domain.GlobalRoom)
		reg.Unsubscribe(c, domain.UserRoom(c.identity.UserID))

		assert.Equal(t, 1, reg.InRoom(domain.GlobalRoom))
		assert.Equal(t, 1, reg.InRoom(domain.UserRoom(c.identity.UserID)))
	})

	t.Run("unregistered clients are ignored", func(t *testing.T) {
		stranger := newTestClient()
		reg.Subscribe(stranger, "project:9")
		assert.Equal(t, 0, reg.InRoom("project:9"))
	})
}

func TestRegistry_Remove(t *testing.T) {
	reg := NewRegistry()
	c := newTestClient()
	reg.Register(c)
	reg.Subscribe(c, "project:9")

	require.True(t, reg.Remove(c))

	assert.Equal(t, 0, reg.ClientCount())
	assert.Equal(t, 0, reg.InRoom("project:9"))
	assert.Equal(t, 0, reg.InRoom(domain.GlobalRoom))

	t.Run("second removal reports not registered", func(t *testing.T) {
		assert.False(t, reg.Remove(c))
	})
}

func TestRegistry_ForEachInRoom(t *testing.T) {
	reg := NewRegistry()
	a := newTestClient()
	b := newTestClient()
	reg.Register(a)
	reg.Register(b)

	t.Run("visits exactly the room members", func(t *testing.T) {
		reg.Subscribe(a, "project:9")

		var visited []*Client
		reg.ForEachInRoom("project:9", func(c *Client) {
			visited = append(visited, c)
		})

		assert.Equal(t, []*Client{a}, visited)
	})

	t.Run("empty room visits nothing", func(t *testing.T) {
		calls := 0
		reg.ForEachInRoom("no-such-room", func(*Client) { calls++ })
		assert.Zero(t, calls)
	})

	t.Run("snapshot survives removal mid-iteration", func(t *testing.T) {
		visits := 0
		reg.ForEachInRoom(domain.GlobalRoom, func(c *Client) {
			// Removing a member while iterating must not corrupt the walk.
			reg.Remove(b)
			visits++
		})
		assert.Equal(t, 2, visits)
	})
}

func TestRegistry_SweepDead(t *testing.T) {
	reg := NewRegistry()
	a := newTestClient()
	b := newTestClient()
	reg.Register(a)
	reg.Register(b)

	// First sweep: everyone was marked alive at registration, so nobody is
	// evicted, but all liveness flags reset to unconfirmed.
	dead, survivors := reg.SweepDead()
	assert.Empty(t, dead)
	assert.Len(t, survivors, 2)

	// Only a confirms liveness before the next sweep.
	reg.MarkAlive(a)

	dead, survivors = reg.SweepDead()
	assert.Equal(t, []*Client{b}, dead)
	assert.Equal(t, []*Client{a}, survivors)
	assert.Equal(t, 1, reg.ClientCount())
	assert.Equal(t, 1, reg.InRoom(domain.GlobalRoom))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			c := newTestClient()
			reg.Register(c)
			reg.Subscribe(c, "project:9")
			reg.MarkAlive(c)
			reg.ForEachInRoom(domain.GlobalRoom, func(*Client) {})
			reg.Unsubscribe(c, "project:9")
			reg.Remove(c)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 8; i++ {
			reg.SweepDead()
		}
	}()

	wg.Wait()
	assert.Equal(t, 0, reg.ClientCount())
}
