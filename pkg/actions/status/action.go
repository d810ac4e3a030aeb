// Package status provides the action that reports the processing status of a record.
package status

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/elena-cav/stepflow/pkg/protocol"
)

const DefaultStatus = "SUCCEEDED"

// Action echoes the record with a fixed status, mirroring a downstream job status lookup.
type Action struct {
	Status string
}

func NewAction(config map[string]any) *Action {
	status, _ := config["status"].(string)
	if status == "" {
		status = DefaultStatus
	}

	return &Action{Status: status}
}

func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error) {
	logger.DebugContext(ctx, "Reporting record status", "module", "status_action", "status", a.Status)

	return map[string]any{
		"status":     a.Status,
		"event":      input,
		"statusCode": http.StatusOK,
	}, nil
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string          { return "status" }
func (*ActionFactory) Name() string        { return "Record Status" }
func (*ActionFactory) Description() string { return "Reports the processing status of the record." }

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config), nil
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{"SUBMITTED", "RUNNING", "SUCCEEDED", "FAILED"},
			},
		},
	}
}
