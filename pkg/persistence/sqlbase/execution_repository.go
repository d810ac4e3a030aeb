package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence"
)

// ExecutionRepository handles execution-related database operations. The full
// record is stored as a JSON document next to the columns used for lookups.
// Time columns hold Unix milliseconds so both dialects compare them the same way.
type ExecutionRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, dialect: dialect, logger: logger}
}

const executionColumns = "data"

// CreateExecution inserts a new execution record.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, exec *models.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := r.dialect.Rebind(`
		INSERT INTO executions (id, workflow_name, status, version, wake_at, deadline, started_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)

	result, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.WorkflowName,
		string(exec.Status),
		exec.Version,
		wakeAt(exec),
		exec.Deadline.UnixMilli(),
		exec.StartedAt.UnixMilli(),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("CreateExecution", exec.ID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// ExecutionByID retrieves an execution by its ID.
func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := r.dialect.Rebind("SELECT " + executionColumns + " FROM executions WHERE id = ?")

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return exec, nil
}

// UpdateExecution stores exec if the stored version still equals exec.Version.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	next := *exec
	next.Version = exec.Version + 1

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := r.dialect.Rebind(`
		UPDATE executions
		SET workflow_name = ?, status = ?, version = ?, wake_at = ?, deadline = ?, data = ?
		WHERE id = ? AND version = ?
	`)

	result, err := r.db.ExecContext(ctx, query,
		next.WorkflowName,
		string(next.Status),
		next.Version,
		wakeAt(&next),
		next.Deadline.UnixMilli(),
		string(data),
		exec.ID,
		exec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return r.missOrConflict(ctx, exec.ID)
	}

	exec.Version = next.Version

	return nil
}

func (r *ExecutionRepository) missOrConflict(ctx context.Context, id string) error {
	var exists int

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind("SELECT 1 FROM executions WHERE id = ?"), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewExecutionError("UpdateExecution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}

	return persistence.NewExecutionError("UpdateExecution", id, persistence.ErrVersionConflict)
}

// ListExecutions returns executions matching the filter, newest first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	var (
		conditions []string
		args       []any
	)

	if filter.WorkflowName != "" {
		conditions = append(conditions, "workflow_name = ?")
		args = append(args, filter.WorkflowName)
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + executionColumns + " FROM executions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = persistence.DefaultListLimit
	}

	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"

	args = append(args, limit, max(filter.Offset, 0))

	return r.query(ctx, query, args...)
}

// DueWaits returns running executions whose Wait timer has elapsed.
func (r *ExecutionRepository) DueWaits(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + ` FROM executions
		WHERE status = ? AND wake_at IS NOT NULL AND wake_at <= ?
		ORDER BY wake_at
		LIMIT ?
	`

	return r.query(ctx, query, string(models.ExecutionStatusRunning), now.UnixMilli(), limit)
}

// OverdueExecutions returns running executions past their deadline.
func (r *ExecutionRepository) OverdueExecutions(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	query := `
		SELECT ` + executionColumns + ` FROM executions
		WHERE status = ? AND deadline <= ?
		ORDER BY deadline
		LIMIT ?
	`

	return r.query(ctx, query, string(models.ExecutionStatusRunning), now.UnixMilli(), limit)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, exec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*models.Execution, error) {
	var data []byte

	err := row.Scan(&data)
	if err != nil {
		return nil, err
	}

	var exec models.Execution

	err = models.DecodeJSON(data, &exec)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}

	return &exec, nil
}

func wakeAt(exec *models.Execution) any {
	if exec.Status != models.ExecutionStatusRunning || exec.Suspension == nil || exec.Suspension.WakeAt == nil {
		return nil
	}

	return exec.Suspension.WakeAt.UnixMilli()
}
