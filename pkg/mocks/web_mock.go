package mocks

import (
	"context"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockEngine is a mock implementation of web.Engine interface.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Trigger(ctx context.Context, req engine.TriggerRequest) (*engine.ExecutionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.ExecutionResult), args.Error(1)
}

func (m *MockEngine) RunDue(ctx context.Context) (engine.RunResult, error) {
	args := m.Called(ctx)

	return args.Get(0).(engine.RunResult), args.Error(1)
}

func (m *MockEngine) Execution(ctx context.Context, id string) (*engine.ExecutionDetail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*engine.ExecutionDetail), args.Error(1)
}

func (m *MockEngine) Pause(ctx context.Context, id string) (*models.Execution, error) {
	return m.execution(m.Called(ctx, id))
}

func (m *MockEngine) Resume(ctx context.Context, id string) (*models.Execution, error) {
	return m.execution(m.Called(ctx, id))
}

func (m *MockEngine) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	return m.execution(m.Called(ctx, id))
}

func (m *MockEngine) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEngine) execution(args mock.Arguments) (*models.Execution, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}
