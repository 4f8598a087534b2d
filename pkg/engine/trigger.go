package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// TriggerRequest enrolls a subscriber into a workflow. The workflow is named
// by ID or Name, the subscriber by ID or Email; IDs win when both are set.
type TriggerRequest struct {
	WorkflowID      string         `json:"workflow_id,omitempty"`
	WorkflowName    string         `json:"workflow_name,omitempty"`
	SubscriberID    string         `json:"subscriber_id,omitempty"`
	SubscriberEmail string         `json:"subscriber_email,omitempty" validate:"omitempty,email"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (r *TriggerRequest) normalize() {
	r.WorkflowID = strings.TrimSpace(r.WorkflowID)
	r.WorkflowName = strings.TrimSpace(r.WorkflowName)
	r.SubscriberID = strings.TrimSpace(r.SubscriberID)
	r.SubscriberEmail = models.NormalizeEmail(r.SubscriberEmail)
}

type ExecutionResult struct {
	ExecutionID  string    `json:"execution_id"`
	WorkflowID   string    `json:"workflow_id"`
	SubscriberID string    `json:"subscriber_id"`
	NextStepAt   time.Time `json:"next_step_at"`
	// Restarted is set when an existing cursor for the pair was reused.
	Restarted bool `json:"restarted"`
}

// Trigger enrolls the subscriber, creating it when addressed by an unknown
// email. Enrolling the same pair again restarts the one existing cursor.
func (e *Engine) Trigger(ctx context.Context, req TriggerRequest) (*ExecutionResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.trigger",
		attribute.String(otelhelper.WorkflowIDKey, req.WorkflowID),
		attribute.String(otelhelper.WorkflowNameKey, req.WorkflowName),
	)
	defer span.End()

	result, err := e.trigger(ctx, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, result.ExecutionID))

	return result, nil
}

func (e *Engine) trigger(ctx context.Context, req TriggerRequest) (*ExecutionResult, error) {
	req.normalize()

	if req.WorkflowID == "" && req.WorkflowName == "" {
		return nil, newError("Trigger", ErrValidation, "workflow_id or workflow_name is required")
	}

	if req.SubscriberID == "" && req.SubscriberEmail == "" {
		return nil, newError("Trigger", ErrValidation, "subscriber_id or subscriber_email is required")
	}

	if err := e.validate.Struct(req); err != nil {
		return nil, newError("Trigger", ErrValidation, "%v", err)
	}

	workflow, err := e.resolveWorkflow(ctx, req)
	if err != nil {
		return nil, err
	}

	if !workflow.IsActive() {
		return nil, newError("Trigger", ErrInactiveWorkflow, "workflow %s is %s", workflow.ID, workflow.Status)
	}

	graph, err := workflow.Graph()
	if err != nil {
		return nil, newError("Trigger", ErrValidation, "workflow %s has an invalid step graph: %v", workflow.ID, err)
	}

	subscriber, err := e.resolveSubscriber(ctx, req)
	if err != nil {
		return nil, err
	}

	now := e.clock()

	stored, err := e.store.ExecutionRepository().Enroll(ctx, &models.Execution{
		WorkflowID:   workflow.ID,
		SubscriberID: subscriber.ID,
		CurrentStep:  1,
		Status:       models.ExecutionStatusActive,
		NextStepAt:   now.Add(graph.DelayBefore(1)),
		StartedAt:    now,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return nil, storeError("Enroll", err)
	}

	result := &ExecutionResult{
		ExecutionID:  stored.ID,
		WorkflowID:   stored.WorkflowID,
		SubscriberID: stored.SubscriberID,
		NextStepAt:   stored.NextStepAt,
		Restarted:    stored.Version > 1,
	}

	e.logger.InfoContext(ctx, "subscriber enrolled",
		"execution_id", result.ExecutionID,
		"workflow_id", result.WorkflowID,
		"subscriber_id", result.SubscriberID,
		"next_step_at", result.NextStepAt,
		"restarted", result.Restarted,
	)

	base := events.NewBaseEvent(events.ExecutionEnrolledEvent, result.WorkflowID, result.ExecutionID, result.SubscriberID)
	base.Metadata = req.Metadata
	e.publish(ctx, result.ExecutionID, events.ExecutionEnrolled{
		BaseEvent:  base,
		NextStepAt: result.NextStepAt,
		Restarted:  result.Restarted,
	})

	return result, nil
}

func (e *Engine) resolveWorkflow(ctx context.Context, req TriggerRequest) (*models.Workflow, error) {
	repo := e.store.WorkflowRepository()

	var (
		workflow *models.Workflow
		err      error
		ref      = req.WorkflowID
	)

	if req.WorkflowID != "" {
		workflow, err = repo.ByID(ctx, req.WorkflowID)
	} else {
		ref = req.WorkflowName
		workflow, err = repo.ByName(ctx, req.WorkflowName)
	}

	switch {
	case err == nil:
		return workflow, nil
	case errors.Is(err, persistence.ErrWorkflowNotFound):
		return nil, newError("Trigger", ErrNotFound, "workflow %q", ref)
	default:
		return nil, storeError("ResolveWorkflow", err)
	}
}

func (e *Engine) resolveSubscriber(ctx context.Context, req TriggerRequest) (*models.Subscriber, error) {
	repo := e.store.SubscriberRepository()

	if req.SubscriberID != "" {
		subscriber, err := repo.ByID(ctx, req.SubscriberID)

		switch {
		case err == nil:
			return subscriber, nil
		case errors.Is(err, persistence.ErrSubscriberNotFound):
			return nil, newError("Trigger", ErrNotFound, "subscriber %q", req.SubscriberID)
		default:
			return nil, storeError("ResolveSubscriber", err)
		}
	}

	subscriber, err := repo.FindOrCreateByEmail(ctx, req.SubscriberEmail)
	if err != nil {
		return nil, storeError("ResolveSubscriber", err)
	}

	return subscriber, nil
}
