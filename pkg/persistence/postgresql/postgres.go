// Package postgresql provides PostgreSQL persistence for executions and callback tickets.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/sqlbase"

	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	executionRepo *sqlbase.ExecutionRepository
	ticketRepo    *sqlbase.TicketRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize components
	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.Postgres, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: sqlbase.NewExecutionRepository(database, sqlbase.Postgres, logger),
		ticketRepo:    sqlbase.NewTicketRepository(database, sqlbase.Postgres, logger),
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// CreateExecution inserts a new execution.
func (p *Persistence) CreateExecution(ctx context.Context, exec *models.Execution) error {
	return p.executionRepo.CreateExecution(ctx, exec)
}

// ExecutionByID returns an execution by its ID.
func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.executionRepo.ExecutionByID(ctx, id)
}

// UpdateExecution stores an execution guarded by its version.
func (p *Persistence) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	return p.executionRepo.UpdateExecution(ctx, exec)
}

// ListExecutions returns executions matching the filter.
func (p *Persistence) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	return p.executionRepo.ListExecutions(ctx, filter)
}

// DueWaits returns executions whose Wait timer elapsed.
func (p *Persistence) DueWaits(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return p.executionRepo.DueWaits(ctx, now, limit)
}

// OverdueExecutions returns running executions past their deadline.
func (p *Persistence) OverdueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return p.executionRepo.OverdueExecutions(ctx, now, limit)
}

// CreateTicket inserts a callback ticket.
func (p *Persistence) CreateTicket(ctx context.Context, ticket *models.CallbackTicket) error {
	return p.ticketRepo.CreateTicket(ctx, ticket)
}

// TicketByToken returns a callback ticket by token.
func (p *Persistence) TicketByToken(ctx context.Context, token string) (*models.CallbackTicket, error) {
	return p.ticketRepo.TicketByToken(ctx, token)
}

// ResolveTicket marks a ticket resolved exactly once.
func (p *Persistence) ResolveTicket(ctx context.Context, token string, at time.Time) (*models.CallbackTicket, error) {
	return p.ticketRepo.ResolveTicket(ctx, token, at)
}

// ReleaseTickets deletes the unresolved tickets of an execution.
func (p *Persistence) ReleaseTickets(ctx context.Context, executionID string) (int, error) {
	return p.ticketRepo.ReleaseTickets(ctx, executionID)
}
