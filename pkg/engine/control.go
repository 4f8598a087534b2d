package engine

import (
	"context"
	"errors"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// ExecutionDetail is a cursor with its step log history.
type ExecutionDetail struct {
	Execution *models.Execution `json:"execution"`
	Logs      []*models.StepLog `json:"logs"`
}

func (e *Engine) Execution(ctx context.Context, id string) (*ExecutionDetail, error) {
	execution, err := e.loadExecution(ctx, "Execution", id)
	if err != nil {
		return nil, err
	}

	logs, err := e.store.StepLogRepository().ByExecution(ctx, id)
	if err != nil {
		return nil, storeError("StepLogs", err)
	}

	return &ExecutionDetail{Execution: execution, Logs: logs}, nil
}

// Pause stops an active cursor from being selected until it is resumed.
func (e *Engine) Pause(ctx context.Context, id string) (*models.Execution, error) {
	return e.transition(ctx, "Pause", id, models.ExecutionStatusPaused)
}

// Resume reactivates a paused cursor. It becomes due no earlier than now.
func (e *Engine) Resume(ctx context.Context, id string) (*models.Execution, error) {
	return e.transition(ctx, "Resume", id, models.ExecutionStatusActive)
}

// Cancel ends an active or paused cursor.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Execution, error) {
	return e.transition(ctx, "Cancel", id, models.ExecutionStatusCancelled)
}

func (e *Engine) transition(ctx context.Context, op, id string, to models.ExecutionStatus) (*models.Execution, error) {
	from := sourceStatuses(to)

	err := e.store.ExecutionRepository().SetStatus(ctx, id, from, to, e.clock())
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrExecutionNotFound):
			return nil, newError(op, ErrNotFound, "execution %q", id)
		case errors.Is(err, ErrConcurrencyConflict):
			current, loadErr := e.loadExecution(ctx, op, id)
			if loadErr != nil {
				return nil, loadErr
			}

			return nil, newError(op, ErrInvalidTransition, "execution %s is %s", id, current.Status)
		default:
			return nil, storeError(op, err)
		}
	}

	execution, err := e.loadExecution(ctx, op, id)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "execution status changed",
		"execution_id", id, "status", string(execution.Status), "op", op)

	return execution, nil
}

// sourceStatuses lists every status allowed to move to to.
func sourceStatuses(to models.ExecutionStatus) []models.ExecutionStatus {
	var from []models.ExecutionStatus

	for _, s := range []models.ExecutionStatus{
		models.ExecutionStatusActive,
		models.ExecutionStatusPaused,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusCancelled,
		models.ExecutionStatusFailed,
	} {
		if models.CanTransition(s, to) {
			from = append(from, s)
		}
	}

	return from
}

func (e *Engine) loadExecution(ctx context.Context, op, id string) (*models.Execution, error) {
	execution, err := e.store.ExecutionRepository().ByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionNotFound) {
			return nil, newError(op, ErrNotFound, "execution %q", id)
		}

		return nil, storeError(op, err)
	}

	return execution, nil
}
