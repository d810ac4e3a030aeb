// Package main provides the Stepflow worker: it performs callback steps from
// the queue, sweeps timers and deadlines, and starts triggered workflows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := append(cmd.RuntimeFlags(),
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often due timers and overdue executions are swept",
			Value:   scheduler.DefaultInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
	)

	command := &cli.Command{
		Name:                  "stepflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that performs callback steps and sweeps timers",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("stepflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Stepflow worker")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			config := cmd.RuntimeConfig(command, "stepflow-worker")

			runtime, err := cmd.NewRuntime(ctx, logger, config)
			if err != nil {
				return err
			}

			defer func() {
				err := runtime.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			worker, err := cmd.StartWorker(ctx, runtime, config.Queue, command.Duration("sweep-interval"), logger)
			if err != nil {
				return err
			}

			<-ctx.Done()

			worker.Stop(context.Background())

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
