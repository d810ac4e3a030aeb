package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/executor"
	"github.com/elena-cav/stepflow/pkg/otelhelper"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/registry"
	"github.com/elena-cav/stepflow/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
)

// Config collects what every stepflow process needs to build an engine.
type Config struct {
	ServiceName     string
	DatabaseURL     string
	EventBus        string
	KafkaBrokers    string
	QueueURL        string
	QueuePrefix     string
	Queue           queue.Config
	WorkflowsPath   string
	PluginsPath     string
	SMTP            SMTPConfig
	Tracing         bool
	TransitionLimit int
}

// Runtime is the wired engine with the resources it owns.
type Runtime struct {
	Persistence persistence.Persistence
	EventBus    eventbus.EventBus
	Queue       queue.Queue
	Registry    *registry.Registry
	Definitions *workflow.Definitions
	Executor    *executor.Executor
	Engine      *workflow.Engine

	logger  *slog.Logger
	closers []func(ctx context.Context) error
}

// NewRuntime opens every backend named by config and loads the workflow
// definitions. Resources opened before a failure are closed again.
func NewRuntime(ctx context.Context, logger *slog.Logger, config Config) (*Runtime, error) {
	runtime := &Runtime{logger: logger}

	err := runtime.open(ctx, config)
	if err != nil {
		closeErr := runtime.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release resources", "error", closeErr)
		}

		return nil, err
	}

	return runtime, nil
}

func (r *Runtime) open(ctx context.Context, config Config) error {
	tracer := otelhelper.NoopTracer()

	if config.Tracing {
		var (
			shutdown otelhelper.ShutdownFunc
			err      error
		)

		tracer, shutdown, err = otelhelper.NewTracer(ctx, config.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		r.closers = append(r.closers, shutdown)
	}

	store, err := NewPersistence(ctx, r.logger, config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	r.Persistence = store
	r.closers = append(r.closers, store.Close)

	bus, err := NewEventBus(config.EventBus, config.KafkaBrokers, config.ServiceName, r.logger)
	if err != nil {
		return err
	}

	r.EventBus = bus
	r.closers = append(r.closers, func(context.Context) error { return bus.Close() })

	q, err := NewQueue(ctx, r.logger, config.QueueURL, config.QueuePrefix, config.Queue)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}

	r.Queue = q
	r.closers = append(r.closers, func(context.Context) error { return q.Close() })

	reg, err := NewRegistry(r.logger, config.PluginsPath, bus, config.SMTP)
	if err != nil {
		return fmt.Errorf("failed to load action plugins: %w", err)
	}

	r.Registry = reg
	r.Definitions = workflow.NewDefinitions(reg, r.logger)

	if config.WorkflowsPath != "" {
		count, err := r.Definitions.LoadInto(config.WorkflowsPath)
		if err != nil {
			return fmt.Errorf("failed to load workflows: %w", err)
		}

		r.logger.InfoContext(ctx, "Loaded workflow definitions", "count", count, "path", config.WorkflowsPath)
	}

	r.Executor = executor.NewExecutor(reg, r.logger, tracer)
	r.Engine = workflow.NewEngine(r.Definitions, store, r.Executor, engineOptions(config, tracer, bus, q, r.logger)...)

	return nil
}

func engineOptions(config Config, tracer trace.Tracer, bus eventbus.EventBus, q queue.Queue, logger *slog.Logger) []workflow.Option {
	opts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithTracer(tracer),
		workflow.WithPublisher(bus),
		workflow.WithDispatcher(queue.NewDispatcher(q, logger)),
	}

	if config.TransitionLimit > 0 {
		opts = append(opts, workflow.WithTransitionLimit(config.TransitionLimit))
	}

	return opts
}

// Close releases resources in reverse opening order.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(r.closers) - 1; i >= 0; i-- {
		err := r.closers[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}

	r.closers = nil

	return errors.Join(errs...)
}
