// Package executor invokes a single step action and normalizes its failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/otelhelper"
	"github.com/elena-cav/stepflow/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Executor performs one external call per Invoke. It never retries.
type Executor struct {
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewExecutor(reg *registry.Registry, logger *slog.Logger, tracer trace.Tracer) *Executor {
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Executor{
		registry: reg,
		logger:   logger.With("module", "step_executor"),
		tracer:   tracer,
	}
}

// Invoke runs the action registered for resource. Every error leaving this
// method is a *models.StepFailure.
func (e *Executor) Invoke(ctx context.Context, resource string, parameters map[string]any, input any) (map[string]any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step.invoke", attribute.String(otelhelper.ResourceKey, resource))
	defer span.End()

	logger := e.logger.With("resource", resource)

	action, err := e.registry.CreateAction(ctx, resource, parameters)
	if err != nil {
		failure := models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, err.Error())
		otelhelper.SetError(span, failure)

		return nil, failure
	}

	output, err := action.Execute(ctx, input, logger)
	if err != nil {
		failure := normalize(err)
		otelhelper.SetError(span, failure,
			attribute.Int(otelhelper.StepStatusCodeKey, failure.StatusCode),
			attribute.String(otelhelper.StepErrorKey, failure.Code),
		)
		logger.WarnContext(ctx, "Step failed", "status_code", failure.StatusCode, "error", failure.Code, "cause", failure.Cause)

		return nil, failure
	}

	if output == nil {
		output = map[string]any{}
	}

	logger.DebugContext(ctx, "Step completed")

	return output, nil
}

func normalize(err error) *models.StepFailure {
	if failure, ok := models.AsStepFailure(err); ok {
		return failure
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.NewStepFailure(http.StatusGatewayTimeout, models.ErrorTimeout, err.Error())
	}

	return models.NewStepFailure(http.StatusInternalServerError, models.ErrorTaskFailed, fmt.Sprint(err))
}
