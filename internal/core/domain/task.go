package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the column a task sits in on the board.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Task is the view of a task the realtime layer works with. Persistence and
// business rules live in the data service; this is only the shape the
// reconciliation engine displays and patches optimistically.
type Task struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	AssigneeID  *uuid.UUID `json:"assigneeId"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"` // server-derived, never set optimistically
}
