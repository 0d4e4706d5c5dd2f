package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
)

// MockTokenVerifier is a mock implementation of ports.TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func NewMockTokenVerifier() *MockTokenVerifier {
	return &MockTokenVerifier{}
}

func (m *MockTokenVerifier) Verify(token string) (domain.Identity, error) {
	args := m.Called(token)
	return args.Get(0).(domain.Identity), args.Error(1)
}

// MockEventBroadcaster is a mock implementation of ports.EventBroadcaster
type MockEventBroadcaster struct {
	mock.Mock
}

func NewMockEventBroadcaster() *MockEventBroadcaster {
	return &MockEventBroadcaster{}
}

func (m *MockEventBroadcaster) Broadcast(event domain.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockChangeNotifier is a mock implementation of ports.ChangeNotifier
type MockChangeNotifier struct {
	mock.Mock
}

func NewMockChangeNotifier() *MockChangeNotifier {
	return &MockChangeNotifier{}
}

func (m *MockChangeNotifier) TaskChanged(ctx context.Context, action string, taskID int64, updatedAt time.Time, room string) {
	m.Called(ctx, action, taskID, updatedAt, room)
}

// MockTaskService is a mock implementation of ports.TaskService
type MockTaskService struct {
	mock.Mock
}

func NewMockTaskService() *MockTaskService {
	return &MockTaskService{}
}

func (m *MockTaskService) ListTasks(ctx context.Context) ([]domain.Task, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Task), args.Error(1)
}

func (m *MockTaskService) UpdateTaskStatus(ctx context.Context, taskID int64, status domain.TaskStatus) error {
	args := m.Called(ctx, taskID, status)
	return args.Error(0)
}

func (m *MockTaskService) AssignTask(ctx context.Context, taskID int64, assigneeID *uuid.UUID) error {
	args := m.Called(ctx, taskID, assigneeID)
	return args.Error(0)
}
