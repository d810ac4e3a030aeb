package persistence_test

import (
	"errors"
	"testing"

	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		execErr := persistence.NewExecutionError("ExecutionByID", "exec-123", persistence.ErrExecutionNotFound)
		conflictErr := persistence.NewExecutionError("UpdateExecution", "exec-123", persistence.ErrVersionConflict)
		ticketErr := persistence.NewTicketError("ResolveTicket", "0123456789abcdef", persistence.ErrTicketAlreadyResolved)

		assert.True(t, persistence.IsExecutionNotFound(execErr))
		assert.True(t, persistence.IsVersionConflict(conflictErr))
		assert.True(t, persistence.IsTicketAlreadyResolved(ticketErr))
		assert.False(t, persistence.IsTicketNotFound(ticketErr))

		assert.True(t, errors.Is(execErr, persistence.ErrExecutionNotFound))
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("UpdateExecution", "exec-123", persistence.ErrVersionConflict)

		assert.Contains(t, err.Error(), "UpdateExecution")
		assert.Contains(t, err.Error(), "exec-123")
		assert.Contains(t, err.Error(), "execution version conflict")
	})

	t.Run("ticket error hides the full token", func(t *testing.T) {
		err := persistence.NewTicketError("TicketByToken", "0123456789abcdef", persistence.ErrTicketNotFound)

		assert.Contains(t, err.Error(), "01234567...")
		assert.NotContains(t, err.Error(), "0123456789abcdef")
	})
}
