package actions

import (
	"context"
	"fmt"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
)

// TaskAction publishes a task.requested event for a CRM-side consumer.
type TaskAction struct {
	publisher eventbus.EventPublisher
}

func NewTaskAction(publisher eventbus.EventPublisher) *TaskAction {
	return &TaskAction{publisher: publisher}
}

func (*TaskAction) Type() models.ActionType { return models.ActionCreateTask }

func (*TaskAction) Description() string {
	return "Requests a follow-up task for the subscriber."
}

func (*TaskAction) Schema() map[string]any {
	return objectSchema([]string{"title"}, map[string]any{
		"title":       nonEmptyString,
		"assignee":    map[string]any{"type": "string"},
		"notes":       map[string]any{"type": "string"},
		"due_in_days": map[string]any{"type": []string{"integer", "string"}},
	})
}

func (a *TaskAction) Execute(ctx context.Context, req Request) error {
	event := events.TaskRequested{
		BaseEvent: baseEvent(events.TaskRequestedEvent, req),
		Title:     stringParam(req, "title"),
		Assignee:  stringParam(req, "assignee"),
		Notes:     stringParam(req, "notes"),
	}

	if _, ok := req.Params["due_in_days"]; ok {
		days, err := intParam(req, "due_in_days")
		if err != nil {
			return err
		}

		event.DueInDays = days
	}

	if event.Title == "" {
		return fmt.Errorf("%w: title is empty", ErrInvalidParams)
	}

	return a.publisher.Publish(ctx, req.ExecutionID, event)
}

// NotificationAction publishes a notification.requested event.
type NotificationAction struct {
	publisher eventbus.EventPublisher
}

func NewNotificationAction(publisher eventbus.EventPublisher) *NotificationAction {
	return &NotificationAction{publisher: publisher}
}

func (*NotificationAction) Type() models.ActionType { return models.ActionSendNotification }

func (*NotificationAction) Description() string {
	return "Sends an internal notification about the subscriber."
}

func (*NotificationAction) Schema() map[string]any {
	return objectSchema([]string{"message"}, map[string]any{
		"message": nonEmptyString,
		"channel": map[string]any{"type": "string"},
	})
}

func (a *NotificationAction) Execute(ctx context.Context, req Request) error {
	event := events.NotificationRequested{
		BaseEvent: baseEvent(events.NotificationRequestedEvent, req),
		Channel:   stringParam(req, "channel"),
		Message:   stringParam(req, "message"),
	}

	if event.Message == "" {
		return fmt.Errorf("%w: message is empty", ErrInvalidParams)
	}

	return a.publisher.Publish(ctx, req.ExecutionID, event)
}

func baseEvent(eventType events.EventType, req Request) events.BaseEvent {
	base := events.NewBaseEvent(eventType, req.WorkflowID, req.ExecutionID, req.SubscriberID())
	if req.IdempotencyKey != "" {
		base.Metadata = map[string]any{"idempotency_key": req.IdempotencyKey}
	}

	return base
}
