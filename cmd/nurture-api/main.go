// Command nurture-api serves the trigger, poll and execution control endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	if err := cmd.LoadEnv(); err != nil {
		logger.Error("Failed to load .env", "error", err)
	}

	command := &cli.Command{
		Name:                  "nurture-api",
		Usage:                 "Enroll subscribers and control workflow executions over HTTP",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "trigger-secret",
				Usage:   "Shared secret expected in the " + web.SecretHeader + " header; empty disables the check",
				Sources: cli.EnvVars("TRIGGER_SECRET"),
			},
		}, cmd.EngineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger = log.WithModule("api")

			logger.InfoContext(ctx, "Initializing nurture API")

			rt, err := cmd.NewRuntime(ctx, command, "nurture-api", logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if command.String("trigger-secret") == "" {
				logger.WarnContext(ctx, "TRIGGER_SECRET is not set; endpoints are unauthenticated")
			}

			api := NewAPI(logger, rt.Engine, command.String("trigger-secret"))

			return api.Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)
	stop()

	if err != nil {
		logger.Error("nurture-api failed", "error", err)
		os.Exit(1)
	}
}
