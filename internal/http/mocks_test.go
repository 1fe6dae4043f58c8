package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyrsmithlabs/curatord/internal/events"
	"github.com/fyrsmithlabs/curatord/internal/execution"
	"github.com/fyrsmithlabs/curatord/internal/orchestrator"
	"github.com/fyrsmithlabs/curatord/internal/workflow"
)

type MockSessions struct {
	mock.Mock
}

func (m *MockSessions) Execute(ctx context.Context, req orchestrator.Request) (*orchestrator.Snapshot, error) {
	args := m.Called(ctx, req)
	snap, _ := args.Get(0).(*orchestrator.Snapshot)
	return snap, args.Error(1)
}

func (m *MockSessions) Status(sessionID string) (*orchestrator.Snapshot, error) {
	args := m.Called(sessionID)
	snap, _ := args.Get(0).(*orchestrator.Snapshot)
	return snap, args.Error(1)
}

func (m *MockSessions) Approve(ctx context.Context, sessionID string, d orchestrator.Decision) (*orchestrator.Snapshot, error) {
	args := m.Called(ctx, sessionID, d)
	snap, _ := args.Get(0).(*orchestrator.Snapshot)
	return snap, args.Error(1)
}

func (m *MockSessions) Cancel(sessionID string) error {
	return m.Called(sessionID).Error(0)
}

func (m *MockSessions) Active() []string {
	args := m.Called()
	ids, _ := args.Get(0).([]string)
	return ids
}

type MockHistory struct {
	mock.Mock
}

func (m *MockHistory) GetSession(ctx context.Context, id string) (*execution.Session, error) {
	args := m.Called(ctx, id)
	sess, _ := args.Get(0).(*execution.Session)
	return sess, args.Error(1)
}

func (m *MockHistory) ListEvents(ctx context.Context, sessionID string) ([]events.Event, error) {
	args := m.Called(ctx, sessionID)
	evs, _ := args.Get(0).([]events.Event)
	return evs, args.Error(1)
}

func (m *MockHistory) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockAutonomy struct {
	mock.Mock
}

func (m *MockAutonomy) CalculateAutonomyLevel(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type staticTemplates []workflow.Template

func (s staticTemplates) Templates() []workflow.Template { return s }
