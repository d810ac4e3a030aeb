package persistence

import (
	"errors"
	"fmt"

	"github.com/elena-cav/stepflow/pkg/log"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists with the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrVersionConflict indicates the stored execution changed since it was read.
	ErrVersionConflict = errors.New("execution version conflict")

	// ErrTicketNotFound indicates no callback ticket exists for the token.
	ErrTicketNotFound = errors.New("callback ticket not found")

	// ErrTicketAlreadyExists indicates a ticket with the same token already exists.
	ErrTicketAlreadyExists = errors.New("callback ticket already exists")

	// ErrTicketAlreadyResolved indicates the ticket was resolved by an earlier call.
	ErrTicketAlreadyResolved = errors.New("callback ticket already resolved")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "ExecutionByID", "UpdateExecution")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// TicketError wraps ticket-related errors. Only a prefix of the token is
// rendered so error messages never leak a usable token.
type TicketError struct {
	Op    string
	Token string
	Err   error
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("%s operation failed for ticket %s: %v", e.Op, log.TokenPrefix(e.Token), e.Err)
}

func (e *TicketError) Unwrap() error {
	return e.Err
}

func (e *TicketError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewTicketError(op, token string, err error) *TicketError {
	return &TicketError{Op: op, Token: token, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsVersionConflict checks if an error indicates a lost compare-and-swap.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsTicketNotFound checks if an error indicates a ticket was not found.
func IsTicketNotFound(err error) bool {
	return errors.Is(err, ErrTicketNotFound)
}

// IsTicketAlreadyResolved checks if an error indicates a duplicate resolution.
func IsTicketAlreadyResolved(err error) bool {
	return errors.Is(err, ErrTicketAlreadyResolved)
}
