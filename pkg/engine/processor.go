package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

type Outcome string

const (
	// OutcomeAdvanced moved the cursor to its next step.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted finished the cursor.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed kept the cursor on its step for a later retry.
	OutcomeFailed Outcome = "failed"
	// OutcomeDeadLettered failed the step for the last allowed time.
	OutcomeDeadLettered Outcome = "dead_lettered"
	// OutcomeSkipped means another writer owned the cursor; nothing was done.
	OutcomeSkipped Outcome = "skipped"
)

type AdvanceResult struct {
	Outcome Outcome
	// Step is the order that was processed, zero when skipped.
	Step       int
	NextStep   int
	NextStepAt time.Time
	// Err is the step failure for OutcomeFailed and OutcomeDeadLettered.
	Err error
}

// Advance runs the cursor's current step. Step failures are reported in the
// result; the returned error is reserved for store failures.
func (e *Engine) Advance(ctx context.Context, execution *models.Execution, graph *models.Graph, subscriber *models.Subscriber) (AdvanceResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.advance",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.SubscriberIDKey, execution.SubscriberID),
		attribute.Int(otelhelper.StepOrderKey, execution.CurrentStep),
	)
	defer span.End()

	result, err := e.advance(ctx, execution, graph, subscriber)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, err
	}

	span.SetAttributes(attribute.String(otelhelper.OutcomeKey, string(result.Outcome)))

	if result.Err != nil {
		otelhelper.SetError(span, result.Err)
	}

	return result, nil
}

func (e *Engine) advance(ctx context.Context, execution *models.Execution, graph *models.Graph, subscriber *models.Subscriber) (AdvanceResult, error) {
	repo := e.store.ExecutionRepository()
	now := e.clock()
	logger := e.logger.With(
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"subscriber_id", execution.SubscriberID,
		"step_order", execution.CurrentStep,
	)

	if !execution.IsDue(now) {
		return AdvanceResult{Outcome: OutcomeSkipped}, nil
	}

	if subscriber == nil || graph == nil {
		return AdvanceResult{}, newError("Advance", ErrValidation, "execution %s needs a graph and a subscriber", execution.ID)
	}

	claimed, err := repo.Claim(ctx, execution, now, now.Add(e.config.ClaimTTL))
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			logger.DebugContext(ctx, "cursor claimed elsewhere, skipping")

			return AdvanceResult{Outcome: OutcomeSkipped}, nil
		}

		return AdvanceResult{}, storeError("Claim", err)
	}

	step, ok := graph.StepAt(claimed.CurrentStep)
	if !ok {
		return e.complete(ctx, claimed, claimed.CurrentStep, now)
	}

	branch, stepErr := e.execute(ctx, claimed, step, subscriber)
	if stepErr != nil {
		return e.fail(ctx, claimed, step, stepErr, now)
	}

	next := graph.Next(step, branch)
	completed := false

	var (
		nextAt time.Time
		result AdvanceResult
	)

	if _, ok := graph.StepAt(next); ok {
		nextAt = now.Add(graph.DelayBefore(next))
		err = repo.Advance(ctx, claimed.ID, claimed.Version, next, nextAt, now)
		result = AdvanceResult{Outcome: OutcomeAdvanced, Step: step.Base().Order, NextStep: next, NextStepAt: nextAt}
	} else {
		completed = true
		err = repo.Complete(ctx, claimed.ID, claimed.Version, now)
		result = AdvanceResult{Outcome: OutcomeCompleted, Step: step.Base().Order}
	}

	if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
		return AdvanceResult{}, storeError("WriteBack", err)
	}

	// The effect already happened, so it is logged even when the write lost to a re-enrollment.
	if logErr := e.appendLog(ctx, models.NewStepLog(claimed.ID, step, models.StepLogStatusSent, nil, now)); logErr != nil {
		return AdvanceResult{}, logErr
	}

	if err != nil {
		logger.InfoContext(ctx, "cursor re-enrolled during step, dropping write")

		return AdvanceResult{Outcome: OutcomeSkipped, Step: step.Base().Order}, nil
	}

	e.processed(ctx, claimed, step, next, branch)

	if completed {
		e.completed(ctx, claimed, now)
	} else {
		logger.DebugContext(ctx, "step processed", "next_step", next, "next_step_at", nextAt)
	}

	return result, nil
}

// execute applies the step's effect. The bool is the condition result.
func (e *Engine) execute(ctx context.Context, execution *models.Execution, step models.Step, subscriber *models.Subscriber) (bool, error) {
	switch s := step.(type) {
	case models.EmailStep:
		// Unsubscribed recipients pass through email steps without a send.
		if !subscriber.Subscribed {
			e.logger.InfoContext(ctx, "skipping email to unsubscribed subscriber",
				"execution_id", execution.ID, "subscriber_id", subscriber.ID, "step_order", s.Order)

			return false, nil
		}

		msg := email.Message{
			From:           e.config.FromAddress,
			To:             subscriber.Email,
			Subject:        template.Personalize(s.Subject, subscriber, execution.Metadata),
			HTML:           template.Personalize(s.Body, subscriber, execution.Metadata),
			IdempotencyKey: idempotencyKey(execution, step),
			WorkflowID:     execution.WorkflowID,
			ExecutionID:    execution.ID,
			SubscriberID:   subscriber.ID,
		}

		if err := e.sender.Send(ctx, msg); err != nil {
			return false, &ExternalServiceError{Service: "email", Err: err}
		}

		return false, nil
	case models.ConditionStep:
		return e.evaluator.Eval(subscriber, s.Field, s.Operator, s.Value), nil
	case models.ActionStep:
		err := e.dispatcher.Execute(ctx, actions.Request{
			Type:           s.ActionType,
			Params:         s.Params,
			WorkflowID:     execution.WorkflowID,
			ExecutionID:    execution.ID,
			StepID:         s.ID,
			Subscriber:     subscriber,
			Metadata:       execution.Metadata,
			IdempotencyKey: idempotencyKey(execution, step),
		})
		if err != nil {
			return false, &ExternalServiceError{Service: "action", Err: err}
		}

		return false, nil
	case models.DelayStep:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %T", models.ErrUnknownStepKind, step)
	}
}

func (e *Engine) fail(ctx context.Context, claimed *models.Execution, step models.Step, stepErr error, now time.Time) (AdvanceResult, error) {
	order := step.Base().Order
	attempts := claimed.Attempts + 1
	deadLetter := e.config.MaxAttempts > 0 && attempts >= e.config.MaxAttempts
	retryAt := now.Add(e.config.RetryBackoff)

	logErr := e.appendLog(ctx, models.NewStepLog(claimed.ID, step, models.StepLogStatusFailed, stepErr, now))

	err := e.store.ExecutionRepository().Release(ctx, claimed.ID, claimed.Version, models.StepFailure{
		Error:      stepErr.Error(),
		RetryAt:    retryAt,
		DeadLetter: deadLetter,
		At:         now,
	})
	if err != nil && !errors.Is(err, ErrConcurrencyConflict) {
		return AdvanceResult{}, storeError("Release", err)
	}

	if logErr != nil {
		return AdvanceResult{}, logErr
	}

	e.logger.WarnContext(ctx, "step failed",
		"execution_id", claimed.ID,
		"step_order", order,
		"attempt", attempts,
		"dead_letter", deadLetter,
		"error", stepErr,
	)

	e.publish(ctx, claimed.ID, events.StepFailed{
		BaseEvent: events.NewBaseEvent(events.StepFailedEvent, claimed.WorkflowID, claimed.ID, claimed.SubscriberID),
		StepID:    step.Base().ID,
		StepOrder: order,
		Error:     stepErr.Error(),
		Attempt:   attempts,
	})

	result := AdvanceResult{Outcome: OutcomeFailed, Step: order, NextStep: order, NextStepAt: retryAt, Err: stepErr}

	if deadLetter {
		result.Outcome = OutcomeDeadLettered
		result.NextStepAt = time.Time{}

		e.publish(ctx, claimed.ID, events.ExecutionDeadLettered{
			BaseEvent: events.NewBaseEvent(events.ExecutionDeadLetteredEvent, claimed.WorkflowID, claimed.ID, claimed.SubscriberID),
			StepOrder: order,
			Attempts:  attempts,
			Error:     stepErr.Error(),
		})
	}

	return result, nil
}

func (e *Engine) complete(ctx context.Context, claimed *models.Execution, order int, now time.Time) (AdvanceResult, error) {
	err := e.store.ExecutionRepository().Complete(ctx, claimed.ID, claimed.Version, now)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			return AdvanceResult{Outcome: OutcomeSkipped, Step: order}, nil
		}

		return AdvanceResult{}, storeError("Complete", err)
	}

	e.completed(ctx, claimed, now)

	return AdvanceResult{Outcome: OutcomeCompleted, Step: order}, nil
}

func (e *Engine) completed(ctx context.Context, claimed *models.Execution, now time.Time) {
	e.logger.InfoContext(ctx, "execution completed",
		"execution_id", claimed.ID, "workflow_id", claimed.WorkflowID, "subscriber_id", claimed.SubscriberID)

	e.publish(ctx, claimed.ID, events.ExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent, claimed.WorkflowID, claimed.ID, claimed.SubscriberID),
		CompletedAt: now,
	})
}

func (e *Engine) processed(ctx context.Context, claimed *models.Execution, step models.Step, next int, branch bool) {
	event := events.StepProcessed{
		BaseEvent: events.NewBaseEvent(events.StepProcessedEvent, claimed.WorkflowID, claimed.ID, claimed.SubscriberID),
		StepID:    step.Base().ID,
		StepOrder: step.Base().Order,
		StepKind:  string(step.Kind()),
		NextStep:  next,
	}

	if step.Kind() == models.StepKindCondition {
		event.Branch = &branch
	}

	e.publish(ctx, claimed.ID, event)
}

func (e *Engine) appendLog(ctx context.Context, entry *models.StepLog) error {
	if err := e.store.StepLogRepository().Append(ctx, entry); err != nil {
		return storeError("AppendStepLog", err)
	}

	return nil
}

// idempotencyKey identifies one step of one enrollment. It survives re-claims
// after an expired lease and changes when the cursor is re-enrolled.
func idempotencyKey(execution *models.Execution, step models.Step) string {
	return execution.ID + ":" + step.Base().ID + ":" + strconv.FormatInt(execution.StartedAt.UnixMilli(), 10)
}
