// Package persistence provides the storage abstraction for executions and callback tickets.
package persistence

import (
	"context"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
)

// DefaultListLimit caps execution listings that do not set a limit.
const DefaultListLimit = 100

type Persistence interface {
	ExecutionRepository
	TicketRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores execution records. UpdateExecution is a
// compare-and-swap on Version: it succeeds only when the stored version equals
// exec.Version and then increments exec.Version.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, exec *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, exec *models.Execution) error
	ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error)

	// DueWaits returns running executions suspended at a Wait whose wake time is at or before now.
	DueWaits(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)
	// OverdueExecutions returns running executions whose deadline is at or before now.
	OverdueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)
}

// TicketRepository stores callback tickets. ResolveTicket is atomic: of any
// number of concurrent calls for one token exactly one succeeds.
type TicketRepository interface {
	CreateTicket(ctx context.Context, ticket *models.CallbackTicket) error
	TicketByToken(ctx context.Context, token string) (*models.CallbackTicket, error)
	ResolveTicket(ctx context.Context, token string, at time.Time) (*models.CallbackTicket, error)
	// ReleaseTickets deletes the unresolved tickets of an execution.
	ReleaseTickets(ctx context.Context, executionID string) (int, error)
}
