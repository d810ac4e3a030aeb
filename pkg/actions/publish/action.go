// Package publish provides the action that emits a notification on the event bus.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/events"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSource = "stepflow"

	ErrorPublishFailed = "Events.PublishFailed"
)

var ErrDetailTypeMissing = errors.New("missing 'detail_type' in configuration")

// Action publishes a Notification whose detail is {"at": <time>, "input": <step input>}.
// The "at" field lets a triggered workflow wait until a relative delay has elapsed.
type Action struct {
	DetailType string
	Source     string
	Delay      time.Duration
	publisher  eventbus.EventPublisher
	clock      clockwork.Clock
}

func NewAction(config map[string]any, publisher eventbus.EventPublisher, clock clockwork.Clock) (*Action, error) {
	detailType, _ := config["detail_type"].(string)
	if detailType == "" {
		return nil, ErrDetailTypeMissing
	}

	source, _ := config["source"].(string)
	if source == "" {
		source = DefaultSource
	}

	var delay time.Duration
	if seconds, ok := toSeconds(config["delay_seconds"]); ok {
		delay = time.Duration(seconds) * time.Second
	}

	return &Action{
		DetailType: detailType,
		Source:     source,
		Delay:      delay,
		publisher:  publisher,
		clock:      clock,
	}, nil
}

func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error) {
	notification := events.Notification{
		BaseEvent:  events.NewBaseEvent(events.NotificationEvent, "", ""),
		DetailType: a.DetailType,
		Source:     a.Source,
		Detail: map[string]any{
			"at":    a.clock.Now().Add(a.Delay).UTC().Format(time.RFC3339),
			"input": input,
		},
	}

	if meta, ok := protocol.StepMetadataFrom(ctx); ok {
		notification.ExecutionID = meta.ExecutionID
		notification.WorkflowName = meta.WorkflowName
	}

	err := a.publisher.Publish(ctx, a.DetailType, notification)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadGateway, ErrorPublishFailed, fmt.Sprintf("failed to publish %s: %v", a.DetailType, err))
	}

	logger.InfoContext(ctx, "Notification published", "module", "publish_action", "detail_type", a.DetailType, "event_id", notification.ID)

	return map[string]any{
		"statusCode": http.StatusOK,
		"eventId":    notification.ID,
		"detailType": a.DetailType,
	}, nil
}

func toSeconds(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()

		return n, err == nil
	default:
		return 0, false
	}
}
