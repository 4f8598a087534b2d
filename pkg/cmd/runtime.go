// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	cli "github.com/urfave/cli/v3"
)

// Runtime is everything a binary needs to drive the engine.
type Runtime struct {
	Logger  *slog.Logger
	Store   persistence.Persistence
	Bus     eventbus.EventBus
	Engine  *engine.Engine
	closers []func(context.Context) error
}

// NewRuntime wires store, event bus, email sender, action dispatcher and
// tracing from the EngineFlags of command.
func NewRuntime(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Logger: logger}

	if command.Bool("otel-enabled") {
		shutdown, err := otelhelper.Setup(ctx, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}

		rt.closers = append(rt.closers, shutdown)
	}

	store, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.Store = store
	rt.closers = append(rt.closers, store.Close)

	bus, err := NewEventBus(command.String("event-bus"), events.Topic, serviceName, logger)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	if bus != nil {
		rt.Bus = bus
		rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })
	}

	sender, closeSender, err := NewEmailSender(ctx, command.String("email-sender"), bus, command.String("redis-url"), logger)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	rt.closers = append(rt.closers, func(context.Context) error { return closeSender() })

	publisher := Publisher(bus)
	dispatcher := actions.NewDefaultDispatcher(logger, store.SubscriberRepository(), publisher,
		&http.Client{Timeout: 30 * time.Second})

	rt.Engine = engine.New(store, sender, dispatcher, logger,
		engine.WithConfig(EngineConfig(command)),
		engine.WithPublisher(publisher),
		engine.WithTracer(otelhelper.Tracer()),
	)

	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.Logger.ErrorContext(ctx, "failed to release resource", "error", err)
		}
	}

	r.closers = nil
}
