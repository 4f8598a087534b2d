// Package email provides the EmailSender contract and its implementations.
package email

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
)

var ErrInvalidMessage = errors.New("email message requires a recipient and a sender")

// Message is one rendered email. IdempotencyKey identifies the processing
// attempt that produced it and is stable across retries of the same claim.
type Message struct {
	From           string
	To             string
	Subject        string
	HTML           string
	IdempotencyKey string

	WorkflowID   string
	ExecutionID  string
	SubscriberID string
}

func (m Message) Validate() error {
	if m.To == "" || m.From == "" {
		return ErrInvalidMessage
	}

	return nil
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "email")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "email sent",
		"to", msg.To,
		"from", msg.From,
		"subject", msg.Subject,
		"execution_id", msg.ExecutionID,
		"idempotency_key", msg.IdempotencyKey,
	)

	return nil
}

// EventSender hands messages to a delivery service over the event bus.
type EventSender struct {
	publisher eventbus.EventPublisher
}

func NewEventSender(publisher eventbus.EventPublisher) *EventSender {
	return &EventSender{publisher: publisher}
}

func (s *EventSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	event := events.EmailRequested{
		BaseEvent:      events.NewBaseEvent(events.EmailRequestedEvent, msg.WorkflowID, msg.ExecutionID, msg.SubscriberID),
		IdempotencyKey: msg.IdempotencyKey,
		From:           msg.From,
		To:             msg.To,
		Subject:        msg.Subject,
		HTML:           msg.HTML,
	}

	return s.publisher.Publish(ctx, msg.ExecutionID, event)
}
