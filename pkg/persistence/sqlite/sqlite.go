// Package sqlite provides an embedded SQLite persistence for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/sqlbase"

	_ "modernc.org/sqlite"
)

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	executionRepo *sqlbase.ExecutionRepository
	ticketRepo    *sqlbase.TicketRepository
}

// NewPersistence opens the database at dsn (a file path or ":memory:").
func NewPersistence(ctx context.Context, logger *slog.Logger, dsn string) (*Persistence, error) {
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" a single database.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = database.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;")
	if err != nil {
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, sqlbase.SQLite, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: sqlbase.NewExecutionRepository(database, sqlbase.SQLite, logger),
		ticketRepo:    sqlbase.NewTicketRepository(database, sqlbase.SQLite, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(context.Context) error {
	err := p.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
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

func (p *Persistence) CreateExecution(ctx context.Context, exec *models.Execution) error {
	return p.executionRepo.CreateExecution(ctx, exec)
}

func (p *Persistence) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	return p.executionRepo.ExecutionByID(ctx, id)
}

func (p *Persistence) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	return p.executionRepo.UpdateExecution(ctx, exec)
}

func (p *Persistence) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	return p.executionRepo.ListExecutions(ctx, filter)
}

func (p *Persistence) DueWaits(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return p.executionRepo.DueWaits(ctx, now, limit)
}

func (p *Persistence) OverdueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	return p.executionRepo.OverdueExecutions(ctx, now, limit)
}

func (p *Persistence) CreateTicket(ctx context.Context, ticket *models.CallbackTicket) error {
	return p.ticketRepo.CreateTicket(ctx, ticket)
}

func (p *Persistence) TicketByToken(ctx context.Context, token string) (*models.CallbackTicket, error) {
	return p.ticketRepo.TicketByToken(ctx, token)
}

func (p *Persistence) ResolveTicket(ctx context.Context, token string, at time.Time) (*models.CallbackTicket, error) {
	return p.ticketRepo.ResolveTicket(ctx, token, at)
}

func (p *Persistence) ReleaseTickets(ctx context.Context, executionID string) (int, error) {
	return p.ticketRepo.ReleaseTickets(ctx, executionID)
}
