// Package protocol declares the contracts between the engine and pluggable step actions.
package protocol

import (
	"context"
	"log/slog"
)

// Action performs exactly one external call per Execute. A failed call is
// reported as a *models.StepFailure; actions never retry.
type Action interface {
	Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions from the parameters of an Invoke or
// InvokeWithCallback state. Schema is a JSON schema for those parameters.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	Schema() map[string]any
	Create(ctx context.Context, config map[string]any) (Action, error)
}

type stepMetadataKey struct{}

// StepMetadata identifies the execution and state an action runs for.
type StepMetadata struct {
	ExecutionID  string
	WorkflowName string
	State        string
}

func WithStepMetadata(ctx context.Context, meta StepMetadata) context.Context {
	return context.WithValue(ctx, stepMetadataKey{}, meta)
}

func StepMetadataFrom(ctx context.Context) (StepMetadata, bool) {
	meta, ok := ctx.Value(stepMetadataKey{}).(StepMetadata)

	return meta, ok
}
