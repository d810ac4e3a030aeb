package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence"
)

// TicketRepository handles callback ticket database operations.
type TicketRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewTicketRepository creates a new ticket repository.
func NewTicketRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *TicketRepository {
	return &TicketRepository{db: db, dialect: dialect, logger: logger}
}

// CreateTicket inserts an unresolved ticket.
func (r *TicketRepository) CreateTicket(ctx context.Context, ticket *models.CallbackTicket) error {
	query := r.dialect.Rebind(`
		INSERT INTO callback_tickets (token, execution_id, state, issued_at, resolved_at)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT (token) DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		ticket.Token,
		ticket.ExecutionID,
		ticket.State,
		ticket.IssuedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert callback ticket: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewTicketError("CreateTicket", ticket.Token, persistence.ErrTicketAlreadyExists)
	}

	return nil
}

// TicketByToken retrieves a ticket by its token.
func (r *TicketRepository) TicketByToken(ctx context.Context, token string) (*models.CallbackTicket, error) {
	query := r.dialect.Rebind(`
		SELECT token, execution_id, state, issued_at, resolved_at
		FROM callback_tickets
		WHERE token = ?
	`)

	ticket, err := scanTicket(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTicketError("TicketByToken", token, persistence.ErrTicketNotFound)
		}

		return nil, fmt.Errorf("failed to scan callback ticket: %w", err)
	}

	return ticket, nil
}

// ResolveTicket marks the ticket resolved. The conditional update is the
// single point of arbitration between concurrent resolutions.
func (r *TicketRepository) ResolveTicket(ctx context.Context, token string, at time.Time) (*models.CallbackTicket, error) {
	query := r.dialect.Rebind(`
		UPDATE callback_tickets
		SET resolved_at = ?
		WHERE token = ? AND resolved_at IS NULL
	`)

	result, err := r.db.ExecContext(ctx, query, at.UnixMilli(), token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve callback ticket: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	ticket, err := r.TicketByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		return nil, persistence.NewTicketError("ResolveTicket", token, persistence.ErrTicketAlreadyResolved)
	}

	return ticket, nil
}

// ReleaseTickets deletes the unresolved tickets of an execution.
func (r *TicketRepository) ReleaseTickets(ctx context.Context, executionID string) (int, error) {
	query := r.dialect.Rebind("DELETE FROM callback_tickets WHERE execution_id = ? AND resolved_at IS NULL")

	result, err := r.db.ExecContext(ctx, query, executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to release callback tickets: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(affected), nil
}

func scanTicket(row scanner) (*models.CallbackTicket, error) {
	var (
		ticket     models.CallbackTicket
		issuedAt   int64
		resolvedAt sql.NullInt64
	)

	err := row.Scan(&ticket.Token, &ticket.ExecutionID, &ticket.State, &issuedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	ticket.IssuedAt = time.UnixMilli(issuedAt).UTC()

	if resolvedAt.Valid {
		at := time.UnixMilli(resolvedAt.Int64).UTC()
		ticket.Resolved = true
		ticket.ResolvedAt = &at
	}

	return &ticket, nil
}
