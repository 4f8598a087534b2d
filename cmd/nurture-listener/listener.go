package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
)

type triggerer interface {
	Trigger(ctx context.Context, req engine.TriggerRequest) (*engine.ExecutionResult, error)
}

// Listener enrolls subscribers from trigger requests arriving on the bus.
type Listener struct {
	engine triggerer
	logger *slog.Logger
}

func NewListener(engine triggerer, logger *slog.Logger) *Listener {
	return &Listener{engine: engine, logger: logger}
}

// Register attaches the trigger handler to bus.
func (l *Listener) Register(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.TriggerRequestedEvent, l.Handle)
}

// Handle returns an error only when the request should be redelivered.
// Requests that can never succeed are logged and dropped.
func (l *Listener) Handle(ctx context.Context, event any) error {
	request, ok := event.(*events.TriggerRequested)
	if !ok {
		l.logger.WarnContext(ctx, "dropping unexpected event", "type", fmt.Sprintf("%T", event))

		return nil
	}

	logger := l.logger.With(
		"event_id", request.ID,
		"workflow_id", request.WorkflowID,
		"workflow_name", request.WorkflowName,
	)

	result, err := l.engine.Trigger(ctx, engine.TriggerRequest{
		WorkflowID:      request.WorkflowID,
		WorkflowName:    request.WorkflowName,
		SubscriberID:    request.SubscriberID,
		SubscriberEmail: request.SubscriberEmail,
		Metadata:        request.Metadata,
	})

	switch {
	case err == nil:
		logger.InfoContext(ctx, "subscriber enrolled",
			"execution_id", result.ExecutionID, "subscriber_id", result.SubscriberID, "restarted", result.Restarted)

		return nil
	case engine.IsValidationError(err), engine.IsNotFound(err):
		logger.WarnContext(ctx, "dropping trigger request", "error", err)

		return nil
	default:
		logger.ErrorContext(ctx, "trigger failed, will retry", "error", err)

		return err
	}
}
