package main

import (
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type API struct {
	logger   *slog.Logger
	runtime  *cmd.Runtime
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, runtime *cmd.Runtime) *API {
	return &API{
		logger:   logger,
		runtime:  runtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.runtime.Engine,
		a.runtime.Engine.Callbacks(),
		a.runtime.Definitions,
		a.runtime.Queue,
		a.runtime.Persistence,
		a.validate,
		a.logger,
	)

	return web.NewApp(handlers)
}
