package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventTaskChanged is the single event type carried by the realtime channel.
// Clients treat any envelope with this type as "something changed, refetch".
const EventTaskChanged = "task.changed"

// Action tags describing what kind of change an Event announces.
const (
	ActionCreate = "create"
	ActionAssign = "assign"
	ActionStatus = "status"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// GlobalRoom is the room every connection joins on registration. Events with
// no explicit room are routed here.
const GlobalRoom = "global"

// UserRoom returns the name of the mandatory per-user room.
func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

// Event is the envelope relayed verbatim to subscribed connections.
type Event struct {
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	TaskID    int64     `json:"taskId"`
	UpdatedAt time.Time `json:"updatedAt"`
	Room      string    `json:"room,omitempty"`
}

// NewTaskChanged builds a change notification for the given task.
func NewTaskChanged(action string, taskID int64, updatedAt time.Time) Event {
	return Event{
		Type:      EventTaskChanged,
		Action:    action,
		TaskID:    taskID,
		UpdatedAt: updatedAt,
	}
}

// TargetRoom returns the room this event routes to, falling back to the
// global room when none is set.
func (e Event) TargetRoom() string {
	if e.Room == "" {
		return GlobalRoom
	}
	return e.Room
}

// ValidAction reports whether a is a known action tag.
func ValidAction(a string) bool {
	switch a {
	case ActionCreate, ActionAssign, ActionStatus, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Identity is the authenticated subject bound to a connection.
type Identity struct {
	UserID uuid.UUID
	Email  string
}
