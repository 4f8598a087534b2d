// Command nurture is the operator CLI: schema migrations, workflow definitions
// and execution control.
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
	logger := log.WithModule("cli")

	if err := cmd.LoadEnv(); err != nil {
		logger.Error("Failed to load .env", "error", err)
	}

	command := &cli.Command{
		Name:                  "nurture",
		Usage:                 "Operate the nurture workflow engine",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			MigrateCommand(),
			WorkflowsCommand(),
			ExecutionsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)
	stop()

	if err != nil {
		logger.Error("nurture failed", "error", err)
		os.Exit(1)
	}
}
