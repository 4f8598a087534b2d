// Command nurture-listener enrolls subscribers from trigger requests published on the event bus.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var errNoBus = errors.New("nurture-listener requires an event bus (kafka or gochannel)")

func main() {
	logger := log.WithModule("listener")

	if err := cmd.LoadEnv(); err != nil {
		logger.Error("Failed to load .env", "error", err)
	}

	command := &cli.Command{
		Name:                  "nurture-listener",
		Usage:                 "Consume " + events.TriggerRequestsTopic + " and enroll subscribers",
		EnableShellCompletion: true,
		Flags:                 cmd.EngineFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))
			logger = log.WithModule("listener")

			provider := command.String("event-bus")
			if provider == cmd.EventBusNone || provider == "" {
				return errNoBus
			}

			rt, err := cmd.NewRuntime(ctx, command, "nurture-listener", logger)
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			requests, err := cmd.NewEventBus(provider, events.TriggerRequestsTopic, "nurture-listener", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := requests.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			if err := NewListener(rt.Engine, logger).Register(requests); err != nil {
				return err
			}

			if err := requests.Subscribe(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "listening for trigger requests", "topic", events.TriggerRequestsTopic)

			<-ctx.Done()

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := command.Run(ctx, os.Args)
	stop()

	if err != nil {
		logger.Error("nurture-listener failed", "error", err)
		os.Exit(1)
	}
}
