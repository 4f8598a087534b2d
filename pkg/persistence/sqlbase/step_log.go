package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

// StepLogRepository appends and reads the per-attempt audit trail.
type StepLogRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

func NewStepLogRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *StepLogRepository {
	return &StepLogRepository{db: db, dialect: dialect, logger: logger}
}

// Append inserts the entry and sets its ID.
func (r *StepLogRepository) Append(ctx context.Context, entry *models.StepLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	entry.CreatedAt = entry.CreatedAt.UTC()

	var (
		stepID       sql.NullString
		stepOrder    sql.NullInt64
		errorMessage sql.NullString
	)

	if entry.StepID != nil {
		stepID = sql.NullString{String: *entry.StepID, Valid: true}
	}

	if entry.StepOrder != nil {
		stepOrder = sql.NullInt64{Int64: int64(*entry.StepOrder), Valid: true}
	}

	if entry.ErrorMessage != "" {
		errorMessage = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, r.dialect.rebind(`
		INSERT INTO step_logs (execution_id, step_id, step_order, status, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`), entry.ExecutionID, stepID, stepOrder, string(entry.Status), errorMessage, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append step log: %w", storeErr(err))
	}

	return nil
}

// ByExecution returns the entries of an execution in insertion order.
func (r *StepLogRepository) ByExecution(ctx context.Context, executionID string) ([]*models.StepLog, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
		SELECT id, execution_id, step_id, step_order, status, error_message, created_at
		FROM step_logs WHERE execution_id = $1 ORDER BY id`), executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step logs: %w", storeErr(err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err)
		}
	}()

	entries := []*models.StepLog{}

	for rows.Next() {
		var (
			entry        models.StepLog
			stepID       sql.NullString
			stepOrder    sql.NullInt64
			errorMessage sql.NullString
		)

		err := rows.Scan(&entry.ID, &entry.ExecutionID, &stepID, &stepOrder, &entry.Status, &errorMessage, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}

		if stepID.Valid {
			entry.StepID = &stepID.String
		}

		if stepOrder.Valid {
			order := int(stepOrder.Int64)
			entry.StepOrder = &order
		}

		entry.ErrorMessage = errorMessage.String
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step logs: %w", storeErr(err))
	}

	return entries, nil
}
