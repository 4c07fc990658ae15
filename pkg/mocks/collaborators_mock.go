package mocks

import (
	"context"

	"github.com/kindred-org/kindred/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockCommunicationSender is a mock implementation of protocol.CommunicationSender.
type MockCommunicationSender struct {
	mock.Mock
}

func (m *MockCommunicationSender) Send(ctx context.Context, msg protocol.Message) (string, error) {
	args := m.Called(ctx, msg)

	return args.String(0), args.Error(1)
}

// MockRecordUpdater is a mock implementation of protocol.RecordUpdater.
type MockRecordUpdater struct {
	mock.Mock
}

func (m *MockRecordUpdater) Update(ctx context.Context, entityType, id string, patch map[string]any) error {
	args := m.Called(ctx, entityType, id, patch)

	return args.Error(0)
}

// MockTaskCreator is a mock implementation of protocol.TaskCreator.
type MockTaskCreator struct {
	mock.Mock
}

func (m *MockTaskCreator) CreateTask(ctx context.Context, task protocol.Task) (string, error) {
	args := m.Called(ctx, task)

	return args.String(0), args.Error(1)
}

// MockWorkflowInvoker is a mock implementation of protocol.WorkflowInvoker.
type MockWorkflowInvoker struct {
	mock.Mock
}

func (m *MockWorkflowInvoker) Invoke(ctx context.Context, workflowRef string, payload map[string]any) (string, error) {
	args := m.Called(ctx, workflowRef, payload)

	return args.String(0), args.Error(1)
}

func (m *MockWorkflowInvoker) QueryStatus(ctx context.Context, token string) (*protocol.WorkflowStatus, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.WorkflowStatus), args.Error(1)
}
