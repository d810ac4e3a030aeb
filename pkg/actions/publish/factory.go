package publish

import (
	"context"

	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/jonboulle/clockwork"
)

// ActionFactory creates publish actions bound to one event bus handle.
type ActionFactory struct {
	publisher eventbus.EventPublisher
	clock     clockwork.Clock
}

func NewActionFactory(publisher eventbus.EventPublisher, clock clockwork.Clock) *ActionFactory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &ActionFactory{publisher: publisher, clock: clock}
}

func (*ActionFactory) ID() string {
	return "publish"
}

func (*ActionFactory) Name() string {
	return "Publish Notification"
}

func (*ActionFactory) Description() string {
	return "Publishes a notification with a detail type that starts matching workflows."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.publisher, f.clock)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"detail_type": map[string]any{
				"type":      "string",
				"minLength": 1,
				"examples":  []string{"StartEmailSender"},
			},
			"source": map[string]any{
				"type":    "string",
				"default": DefaultSource,
			},
			"delay_seconds": map[string]any{
				"type":    "integer",
				"minimum": 0,
			},
		},
		"required": []string{"detail_type"},
	}
}
