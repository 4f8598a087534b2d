package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Poll on a cron schedule until interrupted",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "poll-schedule",
				Usage:   "Cron expression or @every descriptor",
				Value:   scheduler.DefaultSchedule,
				Sources: cli.EnvVars("POLL_SCHEDULE"),
			},
		}, cmd.EngineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("poller")

			rt, err := cmd.NewRuntime(ctx, command, "nurture-poller", logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			s, err := scheduler.New(rt.Engine, logger, command.String("poll-schedule"))
			if err != nil {
				return err
			}

			if err := s.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			s.Stop(context.WithoutCancel(ctx))

			return nil
		},
	}
}

func OnceCommand() *cli.Command {
	return &cli.Command{
		Name:  "once",
		Usage: "Run a single pass and print its result as JSON",
		Flags: cmd.EngineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger := log.WithModule("poller")

			rt, err := cmd.NewRuntime(ctx, command, "nurture-poller", logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			return runOnce(ctx, rt.Engine, os.Stdout)
		},
	}
}

type dueRunner interface {
	RunDue(ctx context.Context) (engine.RunResult, error)
}

func runOnce(ctx context.Context, runner dueRunner, out io.Writer) error {
	result, err := runner.RunDue(ctx)
	if err != nil {
		return fmt.Errorf("poll pass aborted: %w", err)
	}

	return json.NewEncoder(out).Encode(result)
}
