package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elena-cav/stepflow/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when no definition is registered under a name.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound is returned when no execution exists with the given id.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrInvalidDefinition wraps structural and graph problems of a definition.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInvalidInput is returned when a start input is rejected.
	ErrInvalidInput = errors.New("invalid execution input")

	// ErrStaleResume is returned when a resume does not target the current suspension.
	ErrStaleResume = errors.New("stale resume")

	// ErrExecutionTimedOut is returned alongside ErrStaleResume when the deadline won the race.
	ErrExecutionTimedOut = errors.New("execution timed out")
)

// ValidationError lists every problem found while validating a definition or an input.
type ValidationError struct {
	Subject  string
	Problems []string
	kind     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v %s: %s", e.kind, e.Subject, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.kind
}

func newDefinitionError(subject string, problems []string) *ValidationError {
	return &ValidationError{Subject: subject, Problems: problems, kind: ErrInvalidDefinition}
}

func newInputError(subject string, problems []string) *ValidationError {
	return &ValidationError{Subject: subject, Problems: problems, kind: ErrInvalidInput}
}

func staleResume(executionID, reason string) error {
	return fmt.Errorf("%w: execution %s %s", ErrStaleResume, executionID, reason)
}

func timedOutResume(executionID string) error {
	return fmt.Errorf("%w: %w: execution %s passed its deadline", ErrStaleResume, ErrExecutionTimedOut, executionID)
}

// IsStaleResume checks if an error reports a rejected resume.
func IsStaleResume(err error) bool {
	return errors.Is(err, ErrStaleResume)
}

// IsTimedOut checks if an error reports a resume rejected by the execution deadline.
func IsTimedOut(err error) bool {
	return errors.Is(err, ErrExecutionTimedOut)
}
