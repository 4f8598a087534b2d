package models

import "time"

// ExecutionStatus is the state of an execution cursor.
type ExecutionStatus string

const (
	ExecutionStatusActive    ExecutionStatus = "active"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	// ExecutionStatusFailed is the dead-letter state reached when a step
	// exhausts its retry budget.
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s,
// except a fresh enrollment.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusCancelled, ExecutionStatusFailed:
		return true
	}

	return false
}

var transitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusActive: {ExecutionStatusPaused, ExecutionStatusCompleted, ExecutionStatusCancelled, ExecutionStatusFailed},
	ExecutionStatusPaused: {ExecutionStatusActive, ExecutionStatusCancelled},
}

// CanTransition reports whether a cursor may move from one status to another.
func CanTransition(from, to ExecutionStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// Execution is the durable cursor tracking one subscriber through one workflow.
// There is at most one per (WorkflowID, SubscriberID).
type Execution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	SubscriberID string          `json:"subscriber_id"`
	CurrentStep  int             `json:"current_step"`
	Status       ExecutionStatus `json:"status"`
	NextStepAt   time.Time       `json:"next_step_at"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`

	// Version increases on every enrollment, claim and cursor write; writes
	// are conditional on it.
	Version      int64      `json:"version"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsDue reports whether the cursor is eligible for advancement at now.
func (e *Execution) IsDue(now time.Time) bool {
	if e.Status != ExecutionStatusActive || e.NextStepAt.After(now) {
		return false
	}

	return e.ClaimedUntil == nil || !e.ClaimedUntil.After(now)
}

// StepFailure describes a failed processing attempt written back to a claimed cursor.
type StepFailure struct {
	Error string
	// RetryAt is the next time the step becomes due again.
	RetryAt time.Time
	// DeadLetter moves the cursor to ExecutionStatusFailed.
	DeadLetter bool
	At         time.Time
}
