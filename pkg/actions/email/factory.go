package email

import (
	"context"

	"github.com/elena-cav/stepflow/pkg/protocol"
)

// ActionFactory creates email actions bound to one Sender.
type ActionFactory struct {
	sender Sender
}

func NewActionFactory(sender Sender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

func (*ActionFactory) ID() string {
	return "email"
}

func (*ActionFactory) Name() string {
	return "Email"
}

func (*ActionFactory) Description() string {
	return "Sends a templated email to the recipient named in the step input."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config, f.sender)
}

func (*ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject": map[string]any{
				"type":    "string",
				"default": DefaultSubject,
			},
			"body": map[string]any{
				"type":    "string",
				"default": DefaultBody,
			},
			"recipient": map[string]any{
				"type":        "string",
				"description": "Fixed recipient. Overrides recipient_field.",
			},
			"recipient_field": map[string]any{
				"type":        "string",
				"description": "Top-level input field holding the recipient address.",
				"default":     DefaultRecipientField,
			},
		},
	}
}
