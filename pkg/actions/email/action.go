// Package email provides the notification action that emails a team about a product.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elena-cav/stepflow/pkg/datapath"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/template"
)

const (
	DefaultSubject        = "New Warranty Product"
	DefaultBody           = "New Warranty Product published - Insurance ID: {{.insuranceProductId}}"
	DefaultRecipientField = "teamEmail"

	ErrorSendFailed       = "Email.SendFailed"
	ErrorMissingRecipient = "Email.MissingRecipient"
)

var ErrSenderMissing = errors.New("email sender is not configured")

// Action renders and sends one email per execution.
type Action struct {
	Subject        string
	Body           string
	Recipient      string
	RecipientField string
	sender         Sender
}

func NewAction(config map[string]any, sender Sender) (*Action, error) {
	if sender == nil {
		return nil, ErrSenderMissing
	}

	action := &Action{
		Subject:        DefaultSubject,
		Body:           DefaultBody,
		RecipientField: DefaultRecipientField,
		sender:         sender,
	}

	if subject, ok := config["subject"].(string); ok && subject != "" {
		action.Subject = subject
	}

	if body, ok := config["body"].(string); ok && body != "" {
		action.Body = body
	}

	if recipient, ok := config["recipient"].(string); ok {
		action.Recipient = recipient
	}

	if field, ok := config["recipient_field"].(string); ok && field != "" {
		action.RecipientField = field
	}

	for name, tmpl := range map[string]string{"subject": action.Subject, "body": action.Body} {
		if _, err := template.Parse(tmpl); err != nil {
			return nil, fmt.Errorf("invalid %s template: %w", name, err)
		}
	}

	return action, nil
}

func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "email_action")

	recipient := a.recipient(input)
	if recipient == "" {
		return nil, models.NewStepFailure(http.StatusBadRequest, ErrorMissingRecipient,
			fmt.Sprintf("no recipient at field %q", a.RecipientField))
	}

	subject, err := template.Render(a.Subject, input)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, err.Error())
	}

	body, err := template.Render(a.Body, input)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, err.Error())
	}

	err = a.sender.Send(ctx, Message{To: recipient, Subject: subject, Body: body})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to send email", "error", err)

		return nil, models.NewStepFailure(http.StatusInternalServerError, ErrorSendFailed, err.Error())
	}

	logger.InfoContext(ctx, "Email sent", "to", recipient)

	output := map[string]any{
		"teamEmail":  recipient,
		"statusCode": http.StatusOK,
	}

	if id, err := datapath.Get(input, "$.insuranceProductId"); err == nil {
		output["insuranceProductId"] = id
	}

	return output, nil
}

func (a *Action) recipient(input any) string {
	if a.Recipient != "" {
		return a.Recipient
	}

	value, err := datapath.Get(input, "$."+a.RecipientField)
	if err != nil {
		return ""
	}

	recipient, _ := value.(string)

	return recipient
}
