package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var errExecutionIDRequired = errors.New("an execution id is required")

func ExecutionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "executions",
		Aliases: []string{"ex"},
		Usage:   "Inspect and control enrolled executions",
		Commands: []*cli.Command{
			executionCommand("show", "Print an execution and its step log", func(ctx context.Context, rt *cmd.Runtime, id string) (any, error) {
				return rt.Engine.Execution(ctx, id)
			}),
			executionCommand("pause", "Stop an active execution from advancing", func(ctx context.Context, rt *cmd.Runtime, id string) (any, error) {
				return rt.Engine.Pause(ctx, id)
			}),
			executionCommand("resume", "Resume a paused execution", func(ctx context.Context, rt *cmd.Runtime, id string) (any, error) {
				return rt.Engine.Resume(ctx, id)
			}),
			executionCommand("cancel", "End an active or paused execution", func(ctx context.Context, rt *cmd.Runtime, id string) (any, error) {
				return rt.Engine.Cancel(ctx, id)
			}),
		},
	}
}

func executionCommand(name, usage string, run func(context.Context, *cmd.Runtime, string) (any, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<execution-id>",
		Flags:     cmd.EngineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.Args().Len() == 0 {
				return errExecutionIDRequired
			}

			log.Setup(command.String("log-level"))

			rt, err := cmd.NewRuntime(ctx, command, "nurture-cli", log.WithModule("cli"))
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			result, err := run(ctx, rt, command.Args().First())
			if err != nil {
				return err
			}

			return printJSON(os.Stdout, result)
		},
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
