package mocks

import (
	"context"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) CreateExecution(ctx context.Context, exec *models.Execution) error {
	args := m.Called(ctx, exec)

	return args.Error(0)
}

func (m *MockPersistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func (m *MockPersistence) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	args := m.Called(ctx, exec)

	return args.Error(0)
}

func (m *MockPersistence) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockPersistence) DueWaits(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockPersistence) OverdueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Execution), args.Error(1)
}

func (m *MockPersistence) CreateTicket(ctx context.Context, ticket *models.CallbackTicket) error {
	args := m.Called(ctx, ticket)

	return args.Error(0)
}

func (m *MockPersistence) TicketByToken(ctx context.Context, token string) (*models.CallbackTicket, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.CallbackTicket), args.Error(1)
}

func (m *MockPersistence) ResolveTicket(ctx context.Context, token string, at time.Time) (*models.CallbackTicket, error) {
	args := m.Called(ctx, token, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.CallbackTicket), args.Error(1)
}

func (m *MockPersistence) ReleaseTickets(ctx context.Context, executionID string) (int, error) {
	args := m.Called(ctx, executionID)

	return args.Int(0), args.Error(1)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
