package mocks

import (
	"context"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/email"
	"github.com/stretchr/testify/mock"
)

// MockEmailSender is a mock implementation of email.Sender interface.
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Send(ctx context.Context, msg email.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

// MockActionDispatcher is a mock implementation of engine.ActionDispatcher interface.
type MockActionDispatcher struct {
	mock.Mock
}

func (m *MockActionDispatcher) Execute(ctx context.Context, req actions.Request) error {
	args := m.Called(ctx, req)

	return args.Error(0)
}
