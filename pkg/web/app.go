package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp wires the handlers into a fiber application.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()

	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return handlers.store.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Stepflow API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:name", handlers.GetWorkflow)
	w.Post("/:name/executions", handlers.StartExecution)

	e := app.Group("/executions")
	e.Get("/", handlers.ListExecutions)
	e.Get("/:id", handlers.GetExecution)

	cb := app.Group("/callbacks")
	cb.Post("/success", handlers.CallbackSuccess)
	cb.Post("/failure", handlers.CallbackFailure)

	d := app.Group("/dead-letters")
	d.Get("/", handlers.GetDeadLetters)
	d.Post("/:id/redrive", handlers.RedriveDeadLetter)

	app.Post("/atg", handlers.ForwardStub)
	app.Get("/health", handlers.HealthCheck)

	return app
}
