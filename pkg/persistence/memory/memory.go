// Package memory provides an in-process persistence used by tests and single-node runs.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence"
)

// Persistence keeps deep copies of every record behind one mutex.
type Persistence struct {
	mu         sync.RWMutex
	executions map[string]*models.Execution
	tickets    map[string]models.CallbackTicket
}

func NewPersistence() *Persistence {
	return &Persistence{
		executions: make(map[string]*models.Execution),
		tickets:    make(map[string]models.CallbackTicket),
	}
}

func (p *Persistence) CreateExecution(_ context.Context, exec *models.Execution) error {
	clone, err := exec.Clone()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.executions[exec.ID]; exists {
		return persistence.NewExecutionError("CreateExecution", exec.ID, persistence.ErrExecutionAlreadyExists)
	}

	p.executions[exec.ID] = clone

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	stored, exists := p.executions[id]
	p.mu.RUnlock()

	if !exists {
		return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
	}

	return stored.Clone()
}

func (p *Persistence) UpdateExecution(_ context.Context, exec *models.Execution) error {
	next, err := exec.Clone()
	if err != nil {
		return err
	}

	next.Version = exec.Version + 1

	p.mu.Lock()
	defer p.mu.Unlock()

	stored, exists := p.executions[exec.ID]
	if !exists {
		return persistence.NewExecutionError("UpdateExecution", exec.ID, persistence.ErrExecutionNotFound)
	}

	if stored.Version != exec.Version {
		return persistence.NewExecutionError("UpdateExecution", exec.ID, persistence.ErrVersionConflict)
	}

	p.executions[exec.ID] = next
	exec.Version = next.Version

	return nil
}

func (p *Persistence) ListExecutions(_ context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	matched := p.collect(func(exec *models.Execution) bool {
		return (filter.WorkflowName == "" || exec.WorkflowName == filter.WorkflowName) &&
			(filter.Status == "" || exec.Status == filter.Status)
	})

	slices.SortFunc(matched, func(a, b *models.Execution) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = persistence.DefaultListLimit
	}

	offset := min(max(filter.Offset, 0), len(matched))
	end := min(offset+limit, len(matched))

	return cloneAll(matched[offset:end])
}

func (p *Persistence) DueWaits(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	matched := p.collect(func(exec *models.Execution) bool {
		return exec.IsSuspended() && exec.Suspension.WakeAt != nil && !exec.Suspension.WakeAt.After(now)
	})

	slices.SortFunc(matched, func(a, b *models.Execution) int {
		return a.Suspension.WakeAt.Compare(*b.Suspension.WakeAt)
	})

	return cloneAll(matched[:min(limit, len(matched))])
}

func (p *Persistence) OverdueExecutions(_ context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	matched := p.collect(func(exec *models.Execution) bool {
		return exec.Status == models.ExecutionStatusRunning && !exec.Deadline.After(now)
	})

	slices.SortFunc(matched, func(a, b *models.Execution) int {
		return a.Deadline.Compare(b.Deadline)
	})

	return cloneAll(matched[:min(limit, len(matched))])
}

func (p *Persistence) CreateTicket(_ context.Context, ticket *models.CallbackTicket) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.tickets[ticket.Token]; exists {
		return persistence.NewTicketError("CreateTicket", ticket.Token, persistence.ErrTicketAlreadyExists)
	}

	p.tickets[ticket.Token] = copyTicket(*ticket)

	return nil
}

func (p *Persistence) TicketByToken(_ context.Context, token string) (*models.CallbackTicket, error) {
	p.mu.RLock()
	ticket, exists := p.tickets[token]
	p.mu.RUnlock()

	if !exists {
		return nil, persistence.NewTicketError("TicketByToken", token, persistence.ErrTicketNotFound)
	}

	found := copyTicket(ticket)

	return &found, nil
}

func (p *Persistence) ResolveTicket(_ context.Context, token string, at time.Time) (*models.CallbackTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, exists := p.tickets[token]
	if !exists {
		return nil, persistence.NewTicketError("ResolveTicket", token, persistence.ErrTicketNotFound)
	}

	if ticket.Resolved {
		return nil, persistence.NewTicketError("ResolveTicket", token, persistence.ErrTicketAlreadyResolved)
	}

	resolvedAt := at.UTC()
	ticket.Resolved = true
	ticket.ResolvedAt = &resolvedAt
	p.tickets[token] = ticket

	resolved := copyTicket(ticket)

	return &resolved, nil
}

func (p *Persistence) ReleaseTickets(_ context.Context, executionID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	released := 0

	for token, ticket := range p.tickets {
		if ticket.ExecutionID == executionID && !ticket.Resolved {
			delete(p.tickets, token)

			released++
		}
	}

	return released, nil
}

func (p *Persistence) HealthCheck(context.Context) error {
	return nil
}

func (p *Persistence) Close(context.Context) error {
	return nil
}

func (p *Persistence) collect(match func(*models.Execution) bool) []*models.Execution {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var matched []*models.Execution

	for _, exec := range p.executions {
		if match(exec) {
			matched = append(matched, exec)
		}
	}

	return matched
}

func cloneAll(executions []*models.Execution) ([]*models.Execution, error) {
	clones := make([]*models.Execution, 0, len(executions))

	for _, exec := range executions {
		clone, err := exec.Clone()
		if err != nil {
			return nil, err
		}

		clones = append(clones, clone)
	}

	return clones, nil
}

func copyTicket(ticket models.CallbackTicket) models.CallbackTicket {
	if ticket.ResolvedAt != nil {
		at := *ticket.ResolvedAt
		ticket.ResolvedAt = &at
	}

	return ticket
}
