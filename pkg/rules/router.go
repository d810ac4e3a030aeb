// Package rules starts workflows in response to published notifications.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/events"
	"github.com/elena-cav/stepflow/pkg/models"
)

// Starter starts an execution. The workflow engine implements it.
type Starter interface {
	Start(ctx context.Context, workflowName string, input map[string]any) (*models.Execution, error)
}

// Matcher returns the workflows whose trigger selects a notification.
type Matcher interface {
	Triggered(detailType, source string) []*models.Workflow
}

// Router starts every workflow whose trigger detail type equals the
// notification's detail type.
type Router struct {
	matcher Matcher
	starter Starter
	logger  *slog.Logger
}

func NewRouter(matcher Matcher, starter Starter, logger *slog.Logger) *Router {
	return &Router{
		matcher: matcher,
		starter: starter,
		logger:  logger.With("module", "rules_router"),
	}
}

// Register subscribes the router to notifications on sub.
func (r *Router) Register(sub eventbus.EventSubscriber) error {
	return sub.Handle(events.NotificationEvent, r.Handle)
}

// Handle is the event bus handler. Start failures are logged by Route and the
// notification is still acknowledged: a redelivery would start the workflows
// that did start a second time.
func (r *Router) Handle(ctx context.Context, event any) error {
	notification, ok := event.(*events.Notification)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	_, _ = r.Route(ctx, notification)

	return nil
}

// Route starts the matching workflows with the notification detail as input
// and returns the started executions.
func (r *Router) Route(ctx context.Context, notification *events.Notification) ([]*models.Execution, error) {
	logger := r.logger.With("detail_type", notification.DetailType, "source", notification.Source, "event_id", notification.ID)

	matched := r.matcher.Triggered(notification.DetailType, notification.Source)
	if len(matched) == 0 {
		logger.DebugContext(ctx, "No workflow triggered")

		return nil, nil
	}

	var (
		started []*models.Execution
		errs    []error
	)

	for _, wf := range matched {
		exec, err := r.starter.Start(ctx, wf.Name, input(notification))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to start triggered workflow", "workflow", wf.Name, "error", err)
			errs = append(errs, fmt.Errorf("failed to start %s: %w", wf.Name, err))

			continue
		}

		logger.InfoContext(ctx, "Started triggered workflow", "workflow", wf.Name, "execution_id", exec.ID,
			"triggered_by", notification.ExecutionID)

		started = append(started, exec)
	}

	return started, errors.Join(errs...)
}

// input builds a fresh start input per workflow so executions never share maps.
func input(notification *events.Notification) map[string]any {
	if detail, ok := notification.Detail.(map[string]any); ok {
		clone, err := models.CloneMap(detail)
		if err == nil {
			return clone
		}
	}

	return map[string]any{"detail": notification.Detail}
}
