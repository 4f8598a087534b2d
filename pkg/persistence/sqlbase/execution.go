package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

const executionColumns = `id, workflow_id, subscriber_id, current_step, status, next_step_at, started_at,
	completed_at, metadata, version, claimed_until, attempts, last_error, updated_at`

// ExecutionRepository handles cursor storage. Every cursor write is a
// compare-and-swap on the row version.
type ExecutionRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewExecutionRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, dialect: dialect, logger: logger}
}

// Enroll upserts on (workflow_id, subscriber_id). An existing cursor keeps its ID
// and is restarted with a bumped version.
func (r *ExecutionRepository) Enroll(ctx context.Context, execution *models.Execution) (*models.Execution, error) {
	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	id := execution.ID
	if id == "" {
		id = uuid.NewString()
	}

	status := execution.Status
	if status == "" {
		status = models.ExecutionStatusActive
	}

	_, err = r.db.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, 1, NULL, 0, '', $7)
		ON CONFLICT (workflow_id, subscriber_id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			status = EXCLUDED.status,
			next_step_at = EXCLUDED.next_step_at,
			started_at = EXCLUDED.started_at,
			completed_at = NULL,
			metadata = EXCLUDED.metadata,
			version = executions.version + 1,
			claimed_until = NULL,
			attempts = 0,
			last_error = '',
			updated_at = EXCLUDED.updated_at
	`),
		id, execution.WorkflowID, execution.SubscriberID, execution.CurrentStep, string(status),
		execution.NextStepAt.UTC(), execution.StartedAt.UTC(), string(metadata),
	)
	if err != nil {
		return nil, persistence.NewExecutionError("Enroll", id, storeErr(err))
	}

	row := r.db.QueryRowContext(ctx, r.dialect.rebind(
		"SELECT "+executionColumns+" FROM executions WHERE workflow_id = $1 AND subscriber_id = $2"),
		execution.WorkflowID, execution.SubscriberID)

	stored, err := scanExecution(row)
	if err != nil {
		return nil, persistence.NewExecutionError("Enroll", id, storeErr(err))
	}

	return stored, nil
}

func (r *ExecutionRepository) ByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind("SELECT "+executionColumns+" FROM executions WHERE id = $1"), id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("ByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ByID", id, storeErr(err))
	}

	return execution, nil
}

func (r *ExecutionRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 100
	}

	now = now.UTC()

	return r.list(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status = $1 AND next_step_at <= $2 AND (claimed_until IS NULL OR claimed_until <= $2)
		ORDER BY next_step_at, id
		LIMIT $3`, string(models.ExecutionStatusActive), now, limit)
}

// DueAfter is the keyset continuation of Due. after is the last row of the
// previous page as it was read.
func (r *ExecutionRepository) DueAfter(ctx context.Context, now time.Time, after *models.Execution, limit int) ([]*models.Execution, error) {
	if after == nil {
		return r.Due(ctx, now, limit)
	}

	if limit <= 0 {
		limit = 100
	}

	now = now.UTC()

	return r.list(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status = $1 AND next_step_at <= $2 AND (claimed_until IS NULL OR claimed_until <= $2)
			AND (next_step_at > $3 OR (next_step_at = $3 AND id > $4))
		ORDER BY next_step_at, id
		LIMIT $5`, string(models.ExecutionStatusActive), now, after.NextStepAt.UTC(), after.ID, limit)
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	return r.list(ctx, "SELECT "+executionColumns+" FROM executions WHERE workflow_id = $1 ORDER BY started_at, id", workflowID)
}

// Claim leases a due cursor. It matches only if nobody wrote the row since it
// was read and the cursor is still due and unclaimed.
func (r *ExecutionRepository) Claim(ctx context.Context, execution *models.Execution, now, until time.Time) (*models.Execution, error) {
	now, until = now.UTC(), until.UTC()

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		UPDATE executions
		SET version = version + 1, claimed_until = $4, updated_at = $3
		WHERE id = $1 AND version = $2 AND current_step = $5 AND status = $6
			AND next_step_at <= $3 AND (claimed_until IS NULL OR claimed_until <= $3)
	`), execution.ID, execution.Version, now, until, execution.CurrentStep, string(models.ExecutionStatusActive))
	if err != nil {
		return nil, persistence.NewExecutionError("Claim", execution.ID, storeErr(err))
	}

	if err := staleIfNone(result, "Claim", execution.ID); err != nil {
		return nil, err
	}

	claimed := *execution
	claimed.Version = execution.Version + 1
	claimed.ClaimedUntil = &until
	claimed.UpdatedAt = now

	return &claimed, nil
}

// Advance moves a claimed cursor to step and releases the lease. The status is
// left untouched so an external pause that landed mid-step still holds.
func (r *ExecutionRepository) Advance(ctx context.Context, id string, version int64, step int, nextStepAt, at time.Time) error {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		UPDATE executions
		SET current_step = $3,
			next_step_at = CASE WHEN next_step_at > $4 THEN next_step_at ELSE $4 END,
			version = version + 1, claimed_until = NULL, attempts = 0, last_error = '', updated_at = $5
		WHERE id = $1 AND version = $2
	`), id, version, step, nextStepAt.UTC(), at.UTC())
	if err != nil {
		return persistence.NewExecutionError("Advance", id, storeErr(err))
	}

	return staleIfNone(result, "Advance", id)
}

// Complete marks a claimed cursor completed. A cursor paused or cancelled
// while claimed keeps that status.
func (r *ExecutionRepository) Complete(ctx context.Context, id string, version int64, at time.Time) error {
	at = at.UTC()

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		UPDATE executions
		SET status = CASE WHEN status = $4 THEN $5 ELSE status END,
			completed_at = CASE WHEN status = $4 THEN $3 ELSE completed_at END,
			version = version + 1, claimed_until = NULL, updated_at = $3
		WHERE id = $1 AND version = $2
	`), id, version, at, string(models.ExecutionStatusActive), string(models.ExecutionStatusCompleted))
	if err != nil {
		return persistence.NewExecutionError("Complete", id, storeErr(err))
	}

	return staleIfNone(result, "Complete", id)
}

// Release records a failed attempt on a claimed cursor. The step is kept;
// next_step_at only moves forward.
func (r *ExecutionRepository) Release(ctx context.Context, id string, version int64, failure models.StepFailure) error {
	at := failure.At.UTC()
	status := string(models.ExecutionStatusActive)
	completedAt := "completed_at"

	if failure.DeadLetter {
		status = string(models.ExecutionStatusFailed)
		completedAt = "CASE WHEN status = $6 THEN $5 ELSE completed_at END"
	}

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		UPDATE executions
		SET attempts = attempts + 1,
			last_error = $3,
			next_step_at = CASE WHEN next_step_at > $4 THEN next_step_at ELSE $4 END,
			completed_at = `+completedAt+`,
			status = CASE WHEN status = $6 THEN $7 ELSE status END,
			version = version + 1, claimed_until = NULL, updated_at = $5
		WHERE id = $1 AND version = $2
	`), id, version, failure.Error, failure.RetryAt.UTC(), at,
		string(models.ExecutionStatusActive), status)
	if err != nil {
		return persistence.NewExecutionError("Release", id, storeErr(err))
	}

	return staleIfNone(result, "Release", id)
}

// SetStatus applies an external status change. It does not touch the version,
// so an in-flight step can still write back its position.
func (r *ExecutionRepository) SetStatus(ctx context.Context, id string, from []models.ExecutionStatus, status models.ExecutionStatus, at time.Time) error {
	if len(from) == 0 {
		return fmt.Errorf("no source status given for execution %s", id)
	}

	at = at.UTC()
	args := []any{id, string(status), at}
	placeholders := make([]string, 0, len(from))

	for _, s := range from {
		args = append(args, string(s))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	completedAt := "completed_at"
	if status.IsTerminal() {
		completedAt = "$3"
	}

	nextStepAt := "next_step_at"
	if status == models.ExecutionStatusActive {
		nextStepAt = "CASE WHEN next_step_at > $3 THEN next_step_at ELSE $3 END"
	}

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
		UPDATE executions
		SET status = $2, completed_at = `+completedAt+`, next_step_at = `+nextStepAt+`, updated_at = $3
		WHERE id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
	`), args...)
	if err != nil {
		return persistence.NewExecutionError("SetStatus", id, storeErr(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		return nil
	}

	if _, err := r.ByID(ctx, id); err != nil {
		return err
	}

	return persistence.NewExecutionError("SetStatus", id, persistence.ErrStaleExecution)
}

func (r *ExecutionRepository) list(ctx context.Context, query string, args ...any) ([]*models.Execution, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", storeErr(err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err)
		}
	}()

	executions := []*models.Execution{}

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", storeErr(err))
	}

	return executions, nil
}

func staleIfNone(result sql.Result, op, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError(op, id, persistence.ErrStaleExecution)
	}

	return nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		execution    models.Execution
		completedAt  sql.NullTime
		claimedUntil sql.NullTime
		metadata     []byte
	)

	err := row.Scan(
		&execution.ID, &execution.WorkflowID, &execution.SubscriberID, &execution.CurrentStep,
		&execution.Status, &execution.NextStepAt, &execution.StartedAt, &completedAt, &metadata,
		&execution.Version, &claimedUntil, &execution.Attempts, &execution.LastError, &execution.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &execution.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	execution.NextStepAt = execution.NextStepAt.UTC()
	execution.StartedAt = execution.StartedAt.UTC()
	execution.UpdatedAt = execution.UpdatedAt.UTC()

	if completedAt.Valid {
		t := completedAt.Time.UTC()
		execution.CompletedAt = &t
	}

	if claimedUntil.Valid {
		t := claimedUntil.Time.UTC()
		execution.ClaimedUntil = &t
	}

	return &execution, nil
}
