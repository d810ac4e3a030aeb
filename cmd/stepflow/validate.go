package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

var (
	ErrNoPaths          = errors.New("at least one definition path is required")
	ErrInvalidWorkflows = errors.New("invalid workflow definitions found")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate workflow definition files or directories",
		ArgsUsage: "<path> [path...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing action plugins",
				Value:   "./plugins",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			paths := command.Args().Slice()
			if len(paths) == 0 {
				return ErrNoPaths
			}

			logger := log.WithModule("stepflow").With("action", "validate")

			reg, err := cmd.NewRegistry(logger, command.String("plugins-path"), eventbus.NopPublisher{}, cmd.SMTPConfig{})
			if err != nil {
				return err
			}

			out := command.Root().Writer
			names := make(map[string]string)
			invalid := 0

			for _, path := range paths {
				workflows, err := loadPath(path)
				if err != nil {
					_, _ = fmt.Fprintf(out, "FAIL %s\n  %v\n", path, err)
					invalid++

					continue
				}

				for _, wf := range workflows {
					err := workflow.Validate(wf, reg)
					if previous, dup := names[wf.Name]; dup && err == nil {
						err = fmt.Errorf("duplicate workflow name %q, also defined in %s", wf.Name, previous)
					}

					names[wf.Name] = path

					if err != nil {
						_, _ = fmt.Fprintf(out, "FAIL %s (%s)\n", wf.Name, path)
						printProblems(out, err)
						invalid++

						continue
					}

					_, _ = fmt.Fprintf(out, "OK   %s (%s, %d states)\n", wf.Name, path, len(wf.States))
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidWorkflows, invalid)
			}

			return nil
		},
	}
}

func loadPath(path string) ([]*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return workflow.LoadDir(path)
	}

	wf, err := workflow.LoadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return []*models.Workflow{wf}, nil
}

func printProblems(out io.Writer, err error) {
	var validation *workflow.ValidationError
	if !errors.As(err, &validation) {
		_, _ = fmt.Fprintf(out, "  %v\n", err)

		return
	}

	for _, problem := range validation.Problems {
		_, _ = fmt.Fprintf(out, "  - %s\n", problem)
	}
}
