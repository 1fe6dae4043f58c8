package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
)

// MockStore is a testify mock of Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, s *execution.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) UpdateSession(ctx context.Context, s *execution.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockStore) InsertEvent(ctx context.Context, e events.Event) error {
	return m.Called(ctx, e).Error(0)
}

// MockLoader is a testify mock of ContextLoader.
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) LoadContext(ctx context.Context, userID, intent string) execution.Context {
	return m.Called(ctx, userID, intent).Get(0).(execution.Context)
}

func (m *MockLoader) SaveLearningData(ctx context.Context, entry execution.LearningEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockLoader) RecordFeedback(ctx context.Context, sessionID, phaseID, feedback string) error {
	return m.Called(ctx, sessionID, phaseID, feedback).Error(0)
}
