package httppost

import (
	"context"

	"github.com/elena-cav/stepflow/pkg/protocol"
)

// ActionFactory creates http_post actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "http_post"
}

func (*ActionFactory) Name() string {
	return "HTTP POST"
}

func (*ActionFactory) Description() string {
	return "Posts the step input as JSON to an endpoint and returns the response status and body."
}

func (*ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports templates over the step input and {{env \"NAME\"}}.",
				"examples":    []string{`{{env "ATG_ENDPOINT"}}/atg`},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"timeout_seconds": map[string]any{
				"type":    "integer",
				"minimum": 1,
			},
		},
		"required": []string{"url"},
	}
}
