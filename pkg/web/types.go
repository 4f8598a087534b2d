package web

import (
	"time"

	"github.com/dukex/nurture/pkg/engine"
)

// SecretHeader carries the shared trigger secret.
const SecretHeader = "X-Trigger-Secret"

type TriggerRequest struct {
	WorkflowID      string         `json:"workflow_id,omitempty"`
	WorkflowName    string         `json:"workflow_name,omitempty"`
	SubscriberID    string         `json:"subscriber_id,omitempty"`
	SubscriberEmail string         `json:"subscriber_email,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (r TriggerRequest) toEngine() engine.TriggerRequest {
	return engine.TriggerRequest{
		WorkflowID:      r.WorkflowID,
		WorkflowName:    r.WorkflowName,
		SubscriberID:    r.SubscriberID,
		SubscriberEmail: r.SubscriberEmail,
		Metadata:        r.Metadata,
	}
}

type TriggerResponse struct {
	Success      bool      `json:"success"`
	ExecutionID  string    `json:"execution_id"`
	WorkflowID   string    `json:"workflow_id"`
	SubscriberID string    `json:"subscriber_id"`
	NextStepAt   time.Time `json:"next_step_at"`
	Restarted    bool      `json:"restarted"`
}

type PollResponse struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}
