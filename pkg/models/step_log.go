package models

import "time"

type StepLogStatus string

const (
	StepLogStatusSent   StepLogStatus = "sent"
	StepLogStatusFailed StepLogStatus = "failed"
)

// StepLog is an append-only record of one processing attempt.
// StepID is nil when the failure had no step context.
type StepLog struct {
	ID           int64         `json:"id"`
	ExecutionID  string        `json:"execution_id"`
	StepID       *string       `json:"step_id"`
	StepOrder    *int          `json:"step_order,omitempty"`
	Status       StepLogStatus `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewStepLog builds a log entry for step; a nil step yields a step-less entry.
func NewStepLog(executionID string, step Step, status StepLogStatus, err error, at time.Time) *StepLog {
	entry := &StepLog{
		ExecutionID: executionID,
		Status:      status,
		CreatedAt:   at,
	}

	if step != nil {
		base := step.Base()
		id, order := base.ID, base.Order
		entry.StepID = &id
		entry.StepOrder = &order
	}

	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	return entry
}
