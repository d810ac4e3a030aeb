package main

import (
	"context"
	"errors"

	"github.com/elena-cav/stepflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

var ErrSinglePath = errors.New("exactly one definition file is required")

func NewConvertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Print a workflow definition in another format",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format (json, yaml)",
				Value: string(workflow.FormatJSON),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			if command.Args().Len() != 1 {
				return ErrSinglePath
			}

			wf, err := workflow.LoadFile(command.Args().First())
			if err != nil {
				return err
			}

			data, err := workflow.Marshal(wf, workflow.Format(command.String("format")))
			if err != nil {
				return err
			}

			out := command.Root().Writer

			_, err = out.Write(append(data, '\n'))

			return err
		},
	}
}
