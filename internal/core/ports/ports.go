package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

// TokenVerifier resolves the identity token presented during the websocket
// handshake. Implemented by auth.TokenManager.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// EventBroadcaster hands an event to the hub for asynchronous fan-out.
type EventBroadcaster interface {
	Broadcast(event domain.Event) error
}

// ChangeNotifier is the fire-and-forget hook the data-mutation path calls
// after a change is durably applied. Implementations must never fail the
// caller: delivery is best-effort, at-most-once.
type ChangeNotifier interface {
	TaskChanged(ctx context.Context, action string, taskID int64, updatedAt time.Time, room string)
}

// TaskService is the slice of the external data service the reconciliation
// engine consumes: one canonical-list fetch and the mutations it applies
// optimistically.
type TaskService interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status domain.TaskStatus) error
	AssignTask(ctx context.Context, taskID int64, assigneeID *uuid.UUID) error
}
