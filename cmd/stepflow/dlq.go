package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/queue"
	cli "github.com/urfave/cli/v3"
)

var ErrDeadLetterIDMissing = errors.New("a dead letter id is required")

func queueFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "queue-url",
			Usage:    "Callback queue URL (redis://...)",
			Required: true,
			Sources:  cli.EnvVars("QUEUE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue-prefix",
			Usage:   "Key prefix of the Redis callback queue",
			Value:   queue.DefaultRedisPrefix,
			Sources: cli.EnvVars("QUEUE_PREFIX"),
		},
	}
}

// openQueue is replaced in tests.
var openQueue = func(ctx context.Context, command *cli.Command) (queue.Queue, error) {
	logger := log.WithModule("stepflow").With("action", "dlq")

	return cmd.NewQueue(ctx, logger, command.String("queue-url"), command.String("queue-prefix"), queue.Config{})
}

func NewDLQCommand() *cli.Command {
	return &cli.Command{
		Name:  "dlq",
		Usage: "Inspect and redrive dead-lettered callback messages",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List dead letters as JSON lines",
				Flags: append(queueFlags(), &cli.IntFlag{
					Name:  "limit",
					Usage: "Maximum dead letters to list",
					Value: 100,
				}),
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))

					q, err := openQueue(ctx, command)
					if err != nil {
						return err
					}

					defer q.Close()

					letters, err := q.DeadLetters(ctx, command.Int("limit"))
					if err != nil {
						return err
					}

					encoder := json.NewEncoder(command.Root().Writer)

					for _, letter := range letters {
						err := encoder.Encode(map[string]any{
							"id":               letter.ID,
							"cause":            letter.Cause,
							"receive_count":    letter.ReceiveCount,
							"sent_at":          letter.SentAt,
							"dead_lettered_at": letter.DeadLetteredAt,
							"body":             string(letter.Body),
						})
						if err != nil {
							return err
						}
					}

					return nil
				},
			},
			{
				Name:      "redrive",
				Usage:     "Move a dead letter back to the queue",
				ArgsUsage: "<id>",
				Flags:     queueFlags(),
				Action: func(ctx context.Context, command *cli.Command) error {
					log.Setup(command.String("log-level"))

					id := command.Args().First()
					if id == "" {
						return ErrDeadLetterIDMissing
					}

					q, err := openQueue(ctx, command)
					if err != nil {
						return err
					}

					defer q.Close()

					err = q.Redrive(ctx, id)
					if err != nil {
						return err
					}

					_, err = fmt.Fprintf(command.Root().Writer, "redrove %s\n", id)

					return err
				},
			},
		},
	}
}
