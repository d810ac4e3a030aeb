package web

import (
	"errors"

	"github.com/elena-cav/stepflow/pkg/callback"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine, correlator and queue errors to problem documents.
// Timed-out resumes are checked before stale ones since they carry both.
func handleEngineError(c fiber.Ctx, err error) error {
	var validation *workflow.ValidationError

	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound):
		return notFound(c, "workflow_not_found", err.Error())

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case errors.Is(err, callback.ErrUnknownToken):
		return notFound(c, "unknown_token", "callback token is unknown or was released")

	case errors.Is(err, queue.ErrDeadLetterNotFound):
		return notFound(c, "dead_letter_not_found", "dead letter not found")

	case errors.As(err, &validation):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"type":     problem.Type,
			"title":    problem.Title,
			"status":   problem.Status,
			"detail":   problem.Detail,
			"instance": problem.Instance,
			"problems": validation.Problems,
		})

	case errors.Is(err, workflow.ErrInvalidInput):
		return badRequest(c, err.Error())

	case errors.Is(err, callback.ErrDuplicateResolution):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("duplicate_resolution").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case workflow.IsTimedOut(err):
		problem := problems.NewStatusProblem(410).
			WithInstance(c.Path()).
			WithType("execution_timed_out").
			WithDetail(err.Error())

		return c.Status(fiber.StatusGone).JSON(problem)

	case workflow.IsStaleResume(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("stale_resume").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
