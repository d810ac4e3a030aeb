// Package persistencetest holds the behavioral checks every persistence backend must pass.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty persistence for one subtest.
type Factory func(t *testing.T) persistence.Persistence

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewExecution builds a running execution started at epoch.
func NewExecution(workflowName string) *models.Execution {
	return &models.Execution{
		ID:           uuid.NewString(),
		WorkflowName: workflowName,
		Status:       models.ExecutionStatusRunning,
		CurrentState: "Start",
		Input:        map[string]any{"Payload": map[string]any{"insuranceProductId": "INS-1"}},
		Context:      map[string]any{"Payload": map[string]any{"insuranceProductId": "INS-1"}},
		History:      []models.HistoryEntry{},
		StartedAt:    epoch,
		UpdatedAt:    epoch,
		Deadline:     epoch.Add(time.Hour),
	}
}

// Run executes the suite against the backend built by newPersistence.
func Run(t *testing.T, newPersistence Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newPersistence(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newPersistence(t)) })
	t.Run("UpdateCompareAndSwap", func(t *testing.T) { testUpdateCompareAndSwap(t, newPersistence(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newPersistence(t)) })
	t.Run("ListExecutions", func(t *testing.T) { testListExecutions(t, newPersistence(t)) })
	t.Run("DueWaits", func(t *testing.T) { testDueWaits(t, newPersistence(t)) })
	t.Run("OverdueExecutions", func(t *testing.T) { testOverdueExecutions(t, newPersistence(t)) })
	t.Run("TicketLifecycle", func(t *testing.T) { testTicketLifecycle(t, newPersistence(t)) })
	t.Run("ConcurrentResolve", func(t *testing.T) { testConcurrentResolve(t, newPersistence(t)) })
	t.Run("ReleaseTickets", func(t *testing.T) { testReleaseTickets(t, newPersistence(t)) })
	t.Run("HealthCheck", func(t *testing.T) { require.NoError(t, newPersistence(t).HealthCheck(context.Background())) })
}

func testCreateAndGet(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	exec := NewExecution("product-processor")

	require.NoError(t, p.CreateExecution(ctx, exec))

	got, err := p.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)

	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, exec.WorkflowName, got.WorkflowName)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.True(t, exec.Deadline.Equal(got.Deadline))

	payload := got.Context["Payload"].(map[string]any)
	assert.Equal(t, "INS-1", payload["insuranceProductId"])

	// The stored record does not alias the caller's maps.
	payload["insuranceProductId"] = "changed"

	again, err := p.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "INS-1", again.Context["Payload"].(map[string]any)["insuranceProductId"])

	_, err = p.ExecutionByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testCreateDuplicate(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	exec := NewExecution("product-processor")

	require.NoError(t, p.CreateExecution(ctx, exec))

	err := p.CreateExecution(ctx, exec)
	assert.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)
}

func testUpdateCompareAndSwap(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	exec := NewExecution("product-processor")
	require.NoError(t, p.CreateExecution(ctx, exec))

	first, err := p.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)

	second, err := p.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)

	first.CurrentState = "SendEmail"
	require.NoError(t, p.UpdateExecution(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second.CurrentState = "Other"
	err = p.UpdateExecution(ctx, second)
	require.True(t, persistence.IsVersionConflict(err), "got %v", err)
	assert.Equal(t, int64(0), second.Version)

	stored, err := p.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "SendEmail", stored.CurrentState)
	assert.Equal(t, int64(1), stored.Version)
}

func testUpdateMissing(t *testing.T, p persistence.Persistence) {
	err := p.UpdateExecution(context.Background(), NewExecution("product-processor"))
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testListExecutions(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	for i := range 3 {
		exec := NewExecution("product-processor")
		exec.StartedAt = epoch.Add(time.Duration(i) * time.Minute)
		require.NoError(t, p.CreateExecution(ctx, exec))
	}

	done := NewExecution("email-sender")
	done.Status = models.ExecutionStatusSucceeded
	require.NoError(t, p.CreateExecution(ctx, done))

	all, err := p.ListExecutions(ctx, models.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byName, err := p.ListExecutions(ctx, models.ExecutionFilter{WorkflowName: "product-processor"})
	require.NoError(t, err)
	require.Len(t, byName, 3)
	assert.True(t, byName[0].StartedAt.After(byName[1].StartedAt), "newest first")

	byStatus, err := p.ListExecutions(ctx, models.ExecutionFilter{Status: models.ExecutionStatusSucceeded})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, done.ID, byStatus[0].ID)

	page, err := p.ListExecutions(ctx, models.ExecutionFilter{WorkflowName: "product-processor", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func testDueWaits(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	due := NewExecution("email-sender")
	wake := epoch.Add(10 * time.Second)
	due.Suspension = &models.Suspension{Kind: models.SuspensionWait, State: "Wait", WakeAt: &wake, Since: epoch}
	require.NoError(t, p.CreateExecution(ctx, due))

	later := NewExecution("email-sender")
	laterWake := epoch.Add(time.Hour)
	later.Suspension = &models.Suspension{Kind: models.SuspensionWait, State: "Wait", WakeAt: &laterWake, Since: epoch}
	require.NoError(t, p.CreateExecution(ctx, later))

	callback := NewExecution("product-processor")
	callback.Suspension = &models.Suspension{Kind: models.SuspensionCallback, State: "SendEmail", Token: "t", Since: epoch}
	require.NoError(t, p.CreateExecution(ctx, callback))

	found, err := p.DueWaits(ctx, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, due.ID, found[0].ID)

	// Clearing the suspension removes the execution from the due set.
	found[0].Suspension = nil
	require.NoError(t, p.UpdateExecution(ctx, found[0]))

	found, err = p.DueWaits(ctx, epoch.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testOverdueExecutions(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	overdue := NewExecution("product-processor")
	overdue.Deadline = epoch.Add(time.Minute)
	require.NoError(t, p.CreateExecution(ctx, overdue))

	finished := NewExecution("product-processor")
	finished.Deadline = epoch.Add(time.Minute)
	finished.Status = models.ExecutionStatusSucceeded
	require.NoError(t, p.CreateExecution(ctx, finished))

	fresh := NewExecution("product-processor")
	fresh.Deadline = epoch.Add(24 * time.Hour)
	require.NoError(t, p.CreateExecution(ctx, fresh))

	found, err := p.OverdueExecutions(ctx, epoch.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, overdue.ID, found[0].ID)
}

func testTicketLifecycle(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	ticket := &models.CallbackTicket{Token: uuid.NewString(), ExecutionID: "exec-1", State: "SendEmail", IssuedAt: epoch}

	require.NoError(t, p.CreateTicket(ctx, ticket))
	assert.ErrorIs(t, p.CreateTicket(ctx, ticket), persistence.ErrTicketAlreadyExists)

	got, err := p.TicketByToken(ctx, ticket.Token)
	require.NoError(t, err)
	assert.False(t, got.Resolved)
	assert.Equal(t, "SendEmail", got.State)

	resolved, err := p.ResolveTicket(ctx, ticket.Token, epoch.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.True(t, resolved.ResolvedAt.Equal(epoch.Add(time.Second)))

	_, err = p.ResolveTicket(ctx, ticket.Token, epoch.Add(2*time.Second))
	assert.True(t, persistence.IsTicketAlreadyResolved(err))

	_, err = p.ResolveTicket(ctx, "unknown", epoch)
	assert.True(t, persistence.IsTicketNotFound(err))

	_, err = p.TicketByToken(ctx, "unknown")
	assert.True(t, persistence.IsTicketNotFound(err))
}

func testConcurrentResolve(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()
	ticket := &models.CallbackTicket{Token: uuid.NewString(), ExecutionID: "exec-1", State: "SendEmail", IssuedAt: epoch}
	require.NoError(t, p.CreateTicket(ctx, ticket))

	const callers = 8

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := p.ResolveTicket(ctx, ticket.Token, epoch)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case persistence.IsTicketAlreadyResolved(err):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, duplicates)
}

func testReleaseTickets(t *testing.T, p persistence.Persistence) {
	ctx := context.Background()

	open := &models.CallbackTicket{Token: uuid.NewString(), ExecutionID: "exec-1", State: "SendEmail", IssuedAt: epoch}
	done := &models.CallbackTicket{Token: uuid.NewString(), ExecutionID: "exec-1", State: "Earlier", IssuedAt: epoch}
	other := &models.CallbackTicket{Token: uuid.NewString(), ExecutionID: "exec-2", State: "SendEmail", IssuedAt: epoch}

	for _, ticket := range []*models.CallbackTicket{open, done, other} {
		require.NoError(t, p.CreateTicket(ctx, ticket))
	}

	_, err := p.ResolveTicket(ctx, done.Token, epoch)
	require.NoError(t, err)

	released, err := p.ReleaseTickets(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	_, err = p.TicketByToken(ctx, open.Token)
	assert.True(t, persistence.IsTicketNotFound(err))

	_, err = p.TicketByToken(ctx, done.Token)
	require.NoError(t, err, "resolved tickets are kept for duplicate detection")

	_, err = p.TicketByToken(ctx, other.Token)
	require.NoError(t, err)
}
