package log

import (
	"context"
	"fmt"

	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/elena-cav/stepflow/pkg/template"
)

var schema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"message": map[string]any{
			"type":        "string",
			"description": "Message template rendered over the step input.",
			"default":     DefaultMessage,
			"examples":    []string{"Forwarding product {{.Payload.insuranceProductId}}"},
		},
		"level": map[string]any{
			"type":    "string",
			"default": "info",
			"enum":    []string{"debug", "info", "warn", "warning", "error"},
		},
	},
}

// ActionFactory builds log actions. Its resource id is "log".
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string { return "log" }

func (*ActionFactory) Name() string { return "Log" }

func (*ActionFactory) Schema() map[string]any { return schema }

func (*ActionFactory) Description() string {
	return "Writes a rendered message and the step input to the service log."
}

// Create rejects a message that is not a valid template.
func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	action := NewAction(config)

	if _, err := template.Parse(action.Message); err != nil {
		return nil, fmt.Errorf("invalid message template: %w", err)
	}

	return action, nil
}
