// Command nurture-poller advances due workflow executions, either on an
// in-process schedule (run) or once per invocation from an external cron (once).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("poller")

	if err := cmd.LoadEnv(); err != nil {
		logger.Error("Failed to load .env", "error", err)
	}

	command := &cli.Command{
		Name:                  "nurture-poller",
		Usage:                 "Advance due workflow executions",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunCommand(),
			OnceCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)
	stop()

	if err != nil {
		logger.Error("nurture-poller failed", "error", err)
		os.Exit(1)
	}
}
