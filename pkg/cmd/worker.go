package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/rules"
	"github.com/elena-cav/stepflow/pkg/scheduler"
)

// Worker runs the background side of a Runtime: the queue consumer that
// performs callback steps, the sweeper, and the trigger router.
type Worker struct {
	consumer  *queue.Consumer
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// StartWorker subscribes the rules router to the event bus and starts the
// consumer and the scheduler. The bus subscription ends when ctx is cancelled.
func StartWorker(ctx context.Context, runtime *Runtime, queueConfig queue.Config, sweepInterval time.Duration, logger *slog.Logger) (*Worker, error) {
	router := rules.NewRouter(runtime.Definitions, runtime.Engine, logger)

	err := router.Register(runtime.EventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to register trigger router: %w", err)
	}

	err = runtime.EventBus.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	sched, err := scheduler.NewScheduler(runtime.Engine, sweepInterval, logger)
	if err != nil {
		return nil, err
	}

	err = sched.Start(ctx)
	if err != nil {
		return nil, err
	}

	consumer := queue.NewConsumer(runtime.Queue, runtime.Executor, runtime.Engine.Callbacks(), queueConfig, logger)
	consumer.Start(ctx)

	logger.InfoContext(ctx, "Worker started", "sweep_interval", sweepInterval)

	return &Worker{consumer: consumer, scheduler: sched, logger: logger}, nil
}

func (w *Worker) Stop(ctx context.Context) {
	w.logger.InfoContext(ctx, "Shutting down worker...")

	w.consumer.Stop(ctx)
	w.scheduler.Stop(ctx)
}
