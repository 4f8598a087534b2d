// Package events defines the messages the engine publishes and consumes on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	Topic                = "nurture.events"           // Execution lifecycle and side-effect requests
	TriggerRequestsTopic = "nurture.trigger-requests" // Enrollment requests consumed by the listener
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionEnrolledEvent     EventType = "execution.enrolled"
	StepProcessedEvent         EventType = "step.processed"
	StepFailedEvent            EventType = "step.failed"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionDeadLetteredEvent EventType = "execution.dead_lettered"

	// Requests handed to downstream services.
	EmailRequestedEvent        EventType = "email.requested"
	TaskRequestedEvent         EventType = "task.requested"
	NotificationRequestedEvent EventType = "notification.requested"

	// Inbound enrollment requests.
	TriggerRequestedEvent EventType = "trigger.requested"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	SubscriberID string         `json:"subscriber_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID, executionID, subscriberID string) BaseEvent {
	return BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		WorkflowID:   workflowID,
		ExecutionID:  executionID,
		SubscriberID: subscriberID,
	}
}

type ExecutionEnrolled struct {
	BaseEvent

	NextStepAt time.Time `json:"next_step_at"`
	Restarted  bool      `json:"restarted"`
}

func (ExecutionEnrolled) GetType() EventType { return ExecutionEnrolledEvent }

type StepProcessed struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepOrder int    `json:"step_order"`
	StepKind  string `json:"step_kind"`
	NextStep  int    `json:"next_step"`
	// Branch is set for condition steps.
	Branch *bool `json:"branch,omitempty"`
}

func (StepProcessed) GetType() EventType { return StepProcessedEvent }

type StepFailed struct {
	BaseEvent

	StepID    string `json:"step_id"`
	StepOrder int    `json:"step_order"`
	Error     string `json:"error"`
	Attempt   int    `json:"attempt"`
}

func (StepFailed) GetType() EventType { return StepFailedEvent }

type ExecutionCompleted struct {
	BaseEvent

	CompletedAt time.Time `json:"completed_at"`
}

func (ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionDeadLettered struct {
	BaseEvent

	StepOrder int    `json:"step_order"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error"`
}

func (ExecutionDeadLettered) GetType() EventType { return ExecutionDeadLetteredEvent }
