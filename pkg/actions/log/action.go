// Package log provides an action that writes the step input to the structured log.
package log

import (
	"context"
	"log/slog"

	stepflowlog "github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/template"
)

const DefaultMessage = "Step input"

type Action struct {
	Message string
	Level   slog.Level
}

func NewAction(config map[string]any) *Action {
	if config == nil {
		config = map[string]any{}
	}

	message, _ := config["message"].(string)
	if message == "" {
		message = DefaultMessage
	}

	level, _ := config["level"].(string)

	return &Action{
		Message: message,
		Level:   stepflowlog.ParseLevel(level),
	}
}

// Execute logs the rendered message with the input attached and echoes the message.
func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error) {
	message, err := template.Render(a.Message, input)
	if err != nil {
		return nil, models.NewStepFailure(400, models.ErrorRuntime, err.Error())
	}

	logger.Log(ctx, a.Level, message, "action_type", "log", "input", input)

	return map[string]any{"message": message}, nil
}
