package websocket

import (
	"sync"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

// connState is the registry-owned bookkeeping for one connection.
type connState struct {
	rooms map[string]struct{}
	alive bool
}

// Registry tracks every live connection and its room memberships. It is the
// only piece of mutable shared state on the server, so every mutation is
// serialized behind the lock; broadcast fan-out reads a snapshot and never
// holds the lock across network I/O.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]*connState
	rooms   map[string]map[*Client]struct{}
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]*connState),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection with the global room and its per-user room
// pre-subscribed, and marks it alive. Registering an already-registered
// connection is a no-op.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return
	}

	r.clients[c] = &connState{
		rooms: make(map[string]struct{}),
		alive: true,
	}
	r.joinLocked(c, domain.GlobalRoom)
	r.joinLocked(c, domain.UserRoom(c.identity.UserID))
}

// Remove deletes a connection from the registry and every room it was in.
// It reports whether the connection was registered, so callers can make
// unregistration idempotent.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.clients[c]
	if !ok {
		return false
	}

	for room := range state.rooms {
		r.leaveLocked(c, room)
	}
	delete(r.clients, c)
	return true
}

// Subscribe adds the connection to a room. Unregistered connections are
// ignored: a room membership must never outlive its connection entry.
func (r *Registry) Subscribe(c *Client, room string) {
	if room == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}
	r.joinLocked(c, room)
}

// Unsubscribe removes the connection from a room. The global room and the
// connection's own user room are mandatory, so leaving them is a no-op.
func (r *Registry) Unsubscribe(c *Client, room string) {
	if room == domain.GlobalRoom || room == domain.UserRoom(c.identity.UserID) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}
	r.leaveLocked(c, room)
}

// ForEachInRoom applies fn to a point-in-time snapshot of the room's members.
// The snapshot means a connection disconnecting mid-broadcast cannot
// invalidate the iteration, and fn runs without the registry lock held.
func (r *Registry) ForEachInRoom(room string, fn func(*Client)) {
	r.mu.RLock()
	members, ok := r.rooms[room]
	if !ok {
		r.mu.RUnlock()
		return
	}

	snapshot := make([]*Client, 0, len(members))
	for c := range members {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// MarkAlive records that the connection responded to a liveness probe.
func (r *Registry) MarkAlive(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.clients[c]; ok {
		state.alive = true
	}
}

// SweepDead removes every connection that has not been marked alive since the
// previous sweep and returns it for the caller to force-close. Survivors are
// reset to unconfirmed and returned so the caller can probe them; a
// connection that misses two consecutive probes is gone by the next sweep.
func (r *Registry) SweepDead() (dead, survivors []*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c, state := range r.clients {
		if !state.alive {
			dead = append(dead, c)
			continue
		}
		survivors = append(survivors, c)
	}

	for _, c := range dead {
		for room := range r.clients[c].rooms {
			r.leaveLocked(c, room)
		}
		delete(r.clients, c)
	}

	for _, c := range survivors {
		r.clients[c].alive = false
	}

	return dead, survivors
}

// ClientCount returns the number of registered connections.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// InRoom returns the number of connections subscribed to a room.
func (r *Registry) InRoom(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the rooms the connection is currently subscribed to.
func (r *Registry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.clients[c]
	if !ok {
		return nil
	}

	rooms := make([]string, 0, len(state.rooms))
	for room := range state.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Clients returns a snapshot of every registered connection.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Registry) joinLocked(c *Client, room string) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Client]struct{})
	}
	r.rooms[room][c] = struct{}{}
	r.clients[c].rooms[room] = struct{}{}
}

func (r *Registry) leaveLocked(c *Client, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if state, ok := r.clients[c]; ok {
		delete(state.rooms, room)
	}
}
