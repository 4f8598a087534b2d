// Package persistence defines the store contract of the execution engine.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	SubscriberRepository() SubscriberRepository
	ExecutionRepository() ExecutionRepository
	StepLogRepository() StepLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	// Save inserts or replaces a workflow and its steps, assigning an ID when empty.
	Save(ctx context.Context, workflow *models.Workflow) error
	ByID(ctx context.Context, id string) (*models.Workflow, error)
	ByName(ctx context.Context, name string) (*models.Workflow, error)
	List(ctx context.Context) ([]*models.Workflow, error)
	SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error
}

type SubscriberRepository interface {
	Save(ctx context.Context, subscriber *models.Subscriber) error
	ByID(ctx context.Context, id string) (*models.Subscriber, error)
	ByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	// FindOrCreateByEmail atomically returns the subscriber with email, creating
	// a subscribed one when none exists.
	FindOrCreateByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	AddTag(ctx context.Context, id, tag string) error
	RemoveTag(ctx context.Context, id, tag string) error
	// AdjustLeadScore adds delta to the score and returns the new value.
	AdjustLeadScore(ctx context.Context, id string, delta int) (int, error)
	SetEngagement(ctx context.Context, id, level string) error
	Tags(ctx context.Context, id string) ([]string, error)
}

// ExecutionRepository stores cursors. Every write that moves a cursor is
// conditional on the version it was read at and fails with ErrStaleExecution
// when another writer got there first.
type ExecutionRepository interface {
	// Enroll atomically inserts the cursor for (WorkflowID, SubscriberID) or
	// restarts the existing one, returning the stored row.
	Enroll(ctx context.Context, execution *models.Execution) (*models.Execution, error)
	ByID(ctx context.Context, id string) (*models.Execution, error)
	// Due returns active, unclaimed cursors with NextStepAt <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error)
	// DueAfter continues Due past after, ordering on (NextStepAt, ID).
	DueAfter(ctx context.Context, now time.Time, after *models.Execution, limit int) ([]*models.Execution, error)
	// Claim leases the cursor until the given time if it is still at the
	// version and step it was read at. The returned copy carries the new version.
	Claim(ctx context.Context, execution *models.Execution, now, until time.Time) (*models.Execution, error)
	Advance(ctx context.Context, id string, version int64, step int, nextStepAt, at time.Time) error
	Complete(ctx context.Context, id string, version int64, at time.Time) error
	Release(ctx context.Context, id string, version int64, failure models.StepFailure) error
	// SetStatus moves a cursor from one of the given statuses to status.
	SetStatus(ctx context.Context, id string, from []models.ExecutionStatus, status models.ExecutionStatus, at time.Time) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)
}

type StepLogRepository interface {
	Append(ctx context.Context, entry *models.StepLog) error
	ByExecution(ctx context.Context, executionID string) ([]*models.StepLog, error)
}
