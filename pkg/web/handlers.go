// Package web provides the HTTP front door for starting executions, reporting
// callbacks and operating the dead-letter queue.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const defaultDeadLetterLimit = 100

type Engine interface {
	Start(ctx context.Context, workflowName string, input map[string]any) (*models.Execution, error)
	Status(ctx context.Context, executionID string) (*models.Execution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error)
}

type Callbacks interface {
	ResolveSuccess(ctx context.Context, token string, output map[string]any) (*models.Execution, error)
	ResolveFailure(ctx context.Context, token, code, cause string) (*models.Execution, error)
}

type Catalog interface {
	Get(name string) (*models.Workflow, bool)
	List() []*models.Workflow
}

type DeadLetterQueue interface {
	DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error)
	Redrive(ctx context.Context, id string) error
	Stats(ctx context.Context) (queue.Stats, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	engine      Engine
	callbacks   Callbacks
	catalog     Catalog
	deadLetters DeadLetterQueue
	store       HealthChecker
	validator   *validator.Validate
	logger      *slog.Logger
}

func NewAPIHandlers(
	engine Engine,
	callbacks Callbacks,
	catalog Catalog,
	deadLetters DeadLetterQueue,
	store HealthChecker,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		callbacks:   callbacks,
		catalog:     catalog,
		deadLetters: deadLetters,
		store:       store,
		validator:   validator,
		logger:      logger.With("module", "api"),
	}
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	input, err := models.DecodeObject(c.Body())
	if err != nil {
		if errors.Is(err, models.ErrNotAnObject) {
			return badRequest(c, "Execution input must be a JSON object")
		}

		return badRequest(c, "Invalid JSON format")
	}

	exec, err := h.engine.Start(c.Context(), name, input)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newStartExecutionResponse(exec))
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	exec, err := h.engine.Status(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(newExecutionResponse(exec))
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	filter, err := parseExecutionFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.engine.List(c.Context(), filter)
	if err != nil {
		return handleEngineError(c, err)
	}

	responses := make([]ExecutionResponse, 0, len(executions))
	for _, exec := range executions {
		responses = append(responses, newExecutionResponse(exec))
	}

	return c.JSON(fiber.Map{
		"executions": responses,
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

var errUnknownStatus = errors.New("unknown execution status")

func parseExecutionFilter(c fiber.Ctx) (models.ExecutionFilter, error) {
	filter := models.ExecutionFilter{WorkflowName: c.Query("workflow")}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return filter, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return filter, err
		}

		filter.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.ExecutionStatus(statusStr)
		if status != models.ExecutionStatusRunning && !status.IsTerminal() {
			return filter, errUnknownStatus
		}

		filter.Status = status
	}

	return filter, nil
}

func (h *APIHandlers) CallbackSuccess(c fiber.Ctx) error {
	var req CallbackSuccessRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	exec, err := h.callbacks.ResolveSuccess(c.Context(), req.Token, req.Output)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(callbackResponse(exec))
}

func (h *APIHandlers) CallbackFailure(c fiber.Ctx) error {
	var req CallbackFailureRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	exec, err := h.callbacks.ResolveFailure(c.Context(), req.Token, req.Error, req.cause())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(callbackResponse(exec))
}

func callbackResponse(exec *models.Execution) CallbackResponse {
	return CallbackResponse{
		ExecutionID:  exec.ID,
		Status:       exec.Status,
		CurrentState: exec.CurrentState,
		Suspended:    exec.IsSuspended(),
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows := h.catalog.List()

	summaries := make([]WorkflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		summaries = append(summaries, WorkflowSummary{
			Name:     wf.Name,
			Comment:  wf.Comment,
			StartAt:  wf.StartAt,
			States:   len(wf.States),
			Triggers: wf.Triggers,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})

	return c.JSON(fiber.Map{"workflows": summaries})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, ok := h.catalog.Get(c.Params("name"))
	if !ok {
		return notFound(c, "workflow_not_found", "Workflow not found")
	}

	return c.JSON(wf)
}

func (h *APIHandlers) GetDeadLetters(c fiber.Ctx) error {
	limit := defaultDeadLetterLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid query parameters: limit must be a positive integer")
		}

		limit = parsed
	}

	letters, err := h.deadLetters.DeadLetters(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	stats, err := h.deadLetters.Stats(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	responses := make([]DeadLetterResponse, 0, len(letters))
	for _, letter := range letters {
		responses = append(responses, newDeadLetterResponse(letter))
	}

	return c.JSON(fiber.Map{
		"dead_letters": responses,
		"stats":        stats,
	})
}

func (h *APIHandlers) RedriveDeadLetter(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Dead letter ID is required")
	}

	err := h.deadLetters.Redrive(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Redrove dead letter", "message_id", id)

	return c.SendStatus(fiber.StatusAccepted)
}

// ForwardStub stands in for the downstream product endpoint in local runs.
func (h *APIHandlers) ForwardStub(c fiber.Ctx) error {
	payload, err := models.DecodeObject(c.Body())
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	h.logger.InfoContext(c.Context(), "Received forwarded product", "fields", len(payload))

	return c.JSON(fiber.Map{"statusCode": http.StatusOK})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	queueCheck := "ok"
	healthy := true

	if err := h.store.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		healthy = false
	}

	if _, err := h.deadLetters.Stats(c.Context()); err != nil {
		queueCheck = err.Error()
		healthy = false
	}

	status := "unhealthy"
	message := "Stepflow API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if healthy {
		status = "healthy"
		message = "Stepflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"queue":      queueCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
