// Package callback issues and resolves the tokens that resume executions
// suspended at an InvokeWithCallback state.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrUnknownToken is returned for a token that was never issued or was released.
	ErrUnknownToken = errors.New("unknown callback token")

	// ErrDuplicateResolution is returned when a token was already resolved.
	ErrDuplicateResolution = errors.New("callback token already resolved")
)

// Resumer continues the execution a ticket belongs to.
type Resumer interface {
	Resume(ctx context.Context, executionID string, outcome models.Outcome) (*models.Execution, error)
}

type Correlator struct {
	tickets persistence.TicketRepository
	resumer Resumer
	clock   clockwork.Clock
	logger  *slog.Logger
}

func NewCorrelator(tickets persistence.TicketRepository, resumer Resumer, clock clockwork.Clock, logger *slog.Logger) *Correlator {
	return &Correlator{
		tickets: tickets,
		resumer: resumer,
		clock:   clock,
		logger:  logger.With("module", "callback_correlator"),
	}
}

// Issue records an open ticket for the execution's state and returns its token.
// Tokens are random 128-bit identifiers and are never reused.
func (c *Correlator) Issue(ctx context.Context, executionID, state string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate callback token: %w", err)
	}

	ticket := &models.CallbackTicket{
		Token:       id.String(),
		ExecutionID: executionID,
		State:       state,
		IssuedAt:    c.clock.Now().UTC(),
	}

	err = c.tickets.CreateTicket(ctx, ticket)
	if err != nil {
		return "", fmt.Errorf("failed to record callback ticket: %w", err)
	}

	c.logger.DebugContext(ctx, "Issued callback ticket", "execution_id", executionID, "state", state, "token", log.TokenPrefix(ticket.Token))

	return ticket.Token, nil
}

// ResolveSuccess resumes the ticket's execution with output.
func (c *Correlator) ResolveSuccess(ctx context.Context, token string, output map[string]any) (*models.Execution, error) {
	if output == nil {
		output = map[string]any{}
	}

	return c.resolve(ctx, token, func(outcome *models.Outcome) {
		outcome.Output = output
	})
}

// ResolveFailure resumes the ticket's execution with a step failure. The
// failure is merged into the context like any step result.
func (c *Correlator) ResolveFailure(ctx context.Context, token, code, cause string) (*models.Execution, error) {
	return c.Fail(ctx, token, models.NewStepFailure(0, code, cause))
}

// Fail resumes the ticket's execution with a failure raised by a step executor,
// keeping its status code.
func (c *Correlator) Fail(ctx context.Context, token string, failure *models.StepFailure) (*models.Execution, error) {
	return c.resolve(ctx, token, func(outcome *models.Outcome) {
		outcome.Failure = failure
	})
}

// Release drops the open tickets of an execution so late resolutions are unknown.
func (c *Correlator) Release(ctx context.Context, executionID string) error {
	released, err := c.tickets.ReleaseTickets(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to release callback tickets for execution %s: %w", executionID, err)
	}

	if released > 0 {
		c.logger.InfoContext(ctx, "Released callback tickets", "execution_id", executionID, "count", released)
	}

	return nil
}

func (c *Correlator) resolve(ctx context.Context, token string, fill func(*models.Outcome)) (*models.Execution, error) {
	logger := c.logger.With("token", log.TokenPrefix(token))

	ticket, err := c.tickets.ResolveTicket(ctx, token, c.clock.Now().UTC())
	if err != nil {
		switch {
		case persistence.IsTicketNotFound(err):
			logger.WarnContext(ctx, "Rejected resolution for unknown token")

			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, log.TokenPrefix(token))
		case persistence.IsTicketAlreadyResolved(err):
			logger.WarnContext(ctx, "Rejected duplicate resolution")

			return nil, fmt.Errorf("%w: %s", ErrDuplicateResolution, log.TokenPrefix(token))
		default:
			return nil, fmt.Errorf("failed to resolve callback ticket: %w", err)
		}
	}

	outcome := models.Outcome{State: ticket.State, Token: token}
	fill(&outcome)

	logger.InfoContext(ctx, "Resolved callback ticket", "execution_id", ticket.ExecutionID, "state", ticket.State, "failed", outcome.Failure != nil)

	return c.resumer.Resume(ctx, ticket.ExecutionID, outcome)
}
