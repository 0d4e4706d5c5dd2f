package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

func TestEvent_TargetRoom(t *testing.T) {
	t.Run("defaults to global room when unset", func(t *testing.T) {
		event := domain.NewTaskChanged(domain.ActionStatus, 7, time.Now())
		assert.Equal(t, domain.GlobalRoom, event.TargetRoom())
	})

	t.Run("keeps explicit room", func(t *testing.T) {
		event := domain.NewTaskChanged(domain.ActionAssign, 7, time.Now())
		event.Room = "user:abc"
		assert.Equal(t, "user:abc", event.TargetRoom())
	})
}

func TestEvent_WireShape(t *testing.T) {
	raw := `{"type":"task.changed","action":"delete","taskId":42,"updatedAt":"2024-01-01T00:00:00.000Z"}`

	var event domain.Event
	require.NoError(t, json.Unmarshal([]byte(raw), &event))

	assert.Equal(t, domain.EventTaskChanged, event.Type)
	assert.Equal(t, domain.ActionDelete, event.Action)
	assert.Equal(t, int64(42), event.TaskID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), event.UpdatedAt.UTC())
	assert.Equal(t, domain.GlobalRoom, event.TargetRoom())
}

func TestValidAction(t *testing.T) {
	for _, action := range []string{
		domain.ActionCreate,
		domain.ActionAssign,
		domain.ActionStatus,
		domain.ActionUpdate,
		domain.ActionDelete,
	} {
		assert.True(t, domain.ValidAction(action), action)
	}

	assert.False(t, domain.ValidAction(""))
	assert.False(t, domain.ValidAction("renamed"))
}

func TestUserRoom(t *testing.T) {
	userID := uuid.New()
	assert.Equal(t, "user:"+userID.String(), domain.UserRoom(userID))
}

func TestTaskStatus_Valid(t *testing.T) {
	assert.True(t, domain.StatusTodo.Valid())
	assert.True(t, domain.StatusInProgress.Valid())
	assert.True(t, domain.StatusDone.Valid())
	assert.False(t, domain.TaskStatus("archived").Valid())
}
