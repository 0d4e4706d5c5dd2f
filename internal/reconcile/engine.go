package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	apperrors "github.com/lorrc/taskboard-realtime/internal/core/errors"
	"github.com/lorrc/taskboard-realtime/internal/core/ports"
)

type opKind int

const (
	opStatus opKind = iota + 1
	opAssignee
)

// pendingOp records one in-flight optimistic edit. The generation number
// identifies the user action that created it, so a settlement arriving after
// the op has been superseded can be detected and ignored.
type pendingOp struct {
	kind          opKind
	generation    uint64
	priorStatus   domain.TaskStatus
	priorAssignee *uuid.UUID
}

// Engine keeps a client's displayed task collection both responsive and
// eventually correct. User actions are applied to the display immediately and
// dispatched asynchronously; failures roll the display back, successes pull a
// fresh canonical snapshot. External change notifications trigger a refetch
// that never clobbers an entity with a live optimistic edit.
type Engine struct {
	svc    ports.TaskService
	logger *slog.Logger

	mu         sync.Mutex
	tasks      map[int64]domain.Task
	pending    map[int64]*pendingOp
	generation uint64
	closed     bool

	refetching    bool
	refetchQueued bool

	onChange func([]domain.Task)
}

// NewEngine creates an engine backed by the given data service. The engine
// starts empty; call Refetch once to load the initial canonical snapshot.
func NewEngine(svc ports.TaskService, logger *slog.Logger) *Engine {
	return &Engine{
		svc:     svc,
		logger:  logger.With("component", "reconcile_engine"),
		tasks:   make(map[int64]domain.Task),
		pending: make(map[int64]*pendingOp),
	}
}

// SetOnChange registers a callback invoked with a fresh display snapshot
// after every state change. Must be set before the engine is started.
func (e *Engine) SetOnChange(fn func([]domain.Task)) {
	e.onChange = fn
}

// Tasks returns the displayed task collection, sorted by ID.
func (e *Engine) Tasks() []domain.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Task returns the displayed state of one task.
func (e *Engine) Task(taskID int64) (domain.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	return t, ok
}

// HasPending reports whether the task has an unsettled optimistic edit.
func (e *Engine) HasPending(taskID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[taskID]
	return ok
}

// ChangeStatus applies a status change optimistically and dispatches the
// mutation. Changing to the current status is an idempotent no-op: nothing is
// recorded and nothing is dispatched. An invalid target status (an aborted or
// misdropped drag) is rejected before any state change.
func (e *Engine) ChangeStatus(ctx context.Context, taskID int64, status domain.TaskStatus) error {
	if !status.Valid() {
		return apperrors.ErrInvalidStatus
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.ErrEngineClosed
	}
	task, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return apperrors.ErrTaskNotFound
	}
	if task.Status == status {
		e.mu.Unlock()
		return nil
	}

	gen := e.beginLocked(taskID, opStatus, task)
	task.Status = status
	e.tasks[taskID] = task
	e.mu.Unlock()

	e.notifyChange()

	go func() {
		err := e.svc.UpdateTaskStatus(ctx, taskID, status)
		e.settle(ctx, taskID, gen, err)
	}()
	return nil
}

// ChangeAssignee applies an assignee change optimistically and dispatches the
// mutation. Assigning the current assignee is an idempotent no-op.
func (e *Engine) ChangeAssignee(ctx context.Context, taskID int64, assigneeID *uuid.UUID) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.ErrEngineClosed
	}
	task, ok := e.tasks[taskID]
	if !ok {
		e.mu.Unlock()
		return apperrors.ErrTaskNotFound
	}
	if sameAssignee(task.AssigneeID, assigneeID) {
		e.mu.Unlock()
		return nil
	}

	gen := e.beginLocked(taskID, opAssignee, task)
	task.AssigneeID = assigneeID
	e.tasks[taskID] = task
	e.mu.Unlock()

	e.notifyChange()

	go func() {
		err := e.svc.AssignTask(ctx, taskID, assigneeID)
		e.settle(ctx, taskID, gen, err)
	}()
	return nil
}

// OnEvent handles a change notification received over the subscription: an
// unconditional canonical refetch. Entities with a live optimistic edit keep
// their displayed value until their own settlement fires.
func (e *Engine) OnEvent(ctx context.Context, event domain.Event) {
	if event.Type != domain.EventTaskChanged {
		return
	}
	e.RequestRefetch(ctx)
}

// RequestRefetch schedules an asynchronous canonical refetch. Requests
// arriving while one is in flight coalesce into a single follow-up cycle.
func (e *Engine) RequestRefetch(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.refetching {
		e.refetchQueued = true
		e.mu.Unlock()
		return
	}
	e.refetching = true
	e.mu.Unlock()

	go e.refetchLoop(ctx)
}

// Refetch pulls the canonical task list and replaces the display with it,
// except for entities that still have a pending optimistic edit: those keep
// display priority, even if the canonical value differs.
func (e *Engine) Refetch(ctx context.Context) error {
	fresh, err := e.svc.ListTasks(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.ErrEngineClosed
	}

	next := make(map[int64]domain.Task, len(fresh))
	for _, t := range fresh {
		if _, hasPending := e.pending[t.ID]; hasPending {
			next[t.ID] = e.tasks[t.ID]
			continue
		}
		next[t.ID] = t
	}
	// A pending entity missing from the canonical list stays displayed until
	// its settlement resolves it.
	for id := range e.pending {
		if _, ok := next[id]; !ok {
			next[id] = e.tasks[id]
		}
	}
	e.tasks = next
	e.mu.Unlock()

	e.notifyChange()
	return nil
}

// Close stops the engine: further user actions and refetches are refused.
// In-flight settlements become no-ops against the closed state.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// beginLocked records the pending op for a new user action, superseding any
// previous op on the same entity. The prior values snapshot the currently
// displayed state, so rolling back a superseding action lands on what the
// user last saw, never on a stale snapshot.
func (e *Engine) beginLocked(taskID int64, kind opKind, current domain.Task) uint64 {
	e.generation++
	e.pending[taskID] = &pendingOp{
		kind:          kind,
		generation:    e.generation,
		priorStatus:   current.Status,
		priorAssignee: current.AssigneeID,
	}
	return e.generation
}

// settle resolves the mutation outcome for one optimistic op. A settlement
// whose generation no longer matches the pending op has been superseded by a
// newer user action and is ignored entirely.
func (e *Engine) settle(ctx context.Context, taskID int64, gen uint64, mutationErr error) {
	e.mu.Lock()
	op, ok := e.pending[taskID]
	if !ok || op.generation != gen {
		e.mu.Unlock()
		e.logger.Debug("ignoring superseded settlement", "task_id", taskID)
		return
	}
	delete(e.pending, taskID)

	if mutationErr != nil {
		if task, ok := e.tasks[taskID]; ok {
			switch op.kind {
			case opStatus:
				task.Status = op.priorStatus
			case opAssignee:
				task.AssigneeID = op.priorAssignee
			}
			e.tasks[taskID] = task
		}
		e.mu.Unlock()

		e.logger.Warn("mutation failed, rolled back optimistic edit",
			"task_id", taskID,
			"error", mutationErr,
		)
		e.notifyChange()
		return
	}
	e.mu.Unlock()

	// Pick up server-derived fields, e.g. a completion timestamp.
	e.RequestRefetch(ctx)
}

func (e *Engine) refetchLoop(ctx context.Context) {
	for {
		if err := e.Refetch(ctx); err != nil {
			e.logger.Warn("canonical refetch failed", "error", err)
		}

		e.mu.Lock()
		if !e.refetchQueued || e.closed {
			e.refetching = false
			e.mu.Unlock()
			return
		}
		e.refetchQueued = false
		e.mu.Unlock()
	}
}

func (e *Engine) snapshotLocked() []domain.Task {
	tasks := make([]domain.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

func (e *Engine) notifyChange() {
	if e.onChange == nil {
		return
	}
	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	e.onChange(snapshot)
}

func sameAssignee(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
