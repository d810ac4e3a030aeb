// Package main provides the Stepflow API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := append(cmd.RuntimeFlags(),
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port to listen on",
			Value:   3000,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "with-worker",
			Usage:   "Also run the queue consumer, sweeper and trigger router in this process",
			Value:   true,
			Sources: cli.EnvVars("WITH_WORKER"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often due timers and overdue executions are swept",
			Value:   scheduler.DefaultInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
	)

	command := &cli.Command{
		Name:                  "stepflow-api",
		EnableShellCompletion: true,
		Usage:                 "Start the workflow API",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("stepflow-api")

			logger.InfoContext(ctx, "Initializing Stepflow API")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			config := cmd.RuntimeConfig(command, "stepflow-api")

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

			if command.Bool("with-worker") {
				worker, err := cmd.StartWorker(ctx, runtime, config.Queue, command.Duration("sweep-interval"), logger)
				if err != nil {
					return err
				}

				defer worker.Stop(context.Background())
			}

			api := NewAPI(logger, runtime)
			app := api.App()

			go func() {
				<-ctx.Done()

				err := app.Shutdown()
				if err != nil {
					logger.Error("Failed to shut down HTTP server", "error", err)
				}
			}()

			return app.Listen(":" + strconv.Itoa(command.Int("port")))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
