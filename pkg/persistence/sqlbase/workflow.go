package sqlbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, dialect: dialect, logger: logger}
}

// Save upserts the workflow row and replaces its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if _, err := workflow.Graph(); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", storeErr(err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, r.dialect.rebind(`
		INSERT INTO workflows (id, name, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`), workflow.ID, workflow.Name, workflow.Description, string(workflow.Status), workflow.CreatedAt.UTC(), workflow.UpdatedAt)
	if err != nil {
		if r.dialect.uniqueViolation(err) {
			return persistence.NewWorkflowError("Save", workflow.Name, persistence.ErrWorkflowAlreadyExists)
		}

		return fmt.Errorf("failed to save workflow: %w", storeErr(err))
	}

	_, err = tx.ExecContext(ctx, r.dialect.rebind("DELETE FROM workflow_steps WHERE workflow_id = $1"), workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to clear workflow steps: %w", storeErr(err))
	}

	for _, step := range workflow.Steps {
		def := models.EncodeStep(step)
		if def.ID == "" {
			def.ID = uuid.NewString()
		}

		var config []byte

		config, err = json.Marshal(def.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step %d config: %w", def.Order, err)
		}

		_, err = tx.ExecContext(ctx, r.dialect.rebind(`
			INSERT INTO workflow_steps (workflow_id, step_order, id, kind, delay_value, delay_unit, config)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`), workflow.ID, def.Order, def.ID, string(def.Kind), def.Delay.Value, string(def.Delay.Unit), string(config))
		if err != nil {
			return fmt.Errorf("failed to save step %d: %w", def.Order, storeErr(err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow: %w", storeErr(err))
	}

	return r.reloadSteps(ctx, workflow)
}

// ByID retrieves a workflow and its steps by ID.
func (r *WorkflowRepository) ByID(ctx context.Context, id string) (*models.Workflow, error) {
	return r.one(ctx, "ByID", id, "id = $1")
}

// ByName retrieves a workflow and its steps by its unique name.
func (r *WorkflowRepository) ByName(ctx context.Context, name string) (*models.Workflow, error) {
	return r.one(ctx, "ByName", name, "name = $1")
}

func (r *WorkflowRepository) one(ctx context.Context, op, key, where string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`
		SELECT id, name, description, status, created_at, updated_at
		FROM workflows WHERE `+where), key)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError(op, key, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", storeErr(err))
	}

	if err := r.reloadSteps(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// List returns every workflow ordered by name.
func (r *WorkflowRepository) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, status, created_at, updated_at
		FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", storeErr(err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err)
		}
	}()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workflows: %w", storeErr(err))
	}

	for _, workflow := range workflows {
		if err := r.reloadSteps(ctx, workflow); err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

// SetStatus changes the lifecycle status of a workflow.
func (r *WorkflowRepository) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(
		"UPDATE workflows SET status = $2, updated_at = $3 WHERE id = $1"), id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update workflow status: %w", storeErr(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("SetStatus", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) reloadSteps(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
		SELECT id, step_order, kind, delay_value, delay_unit, config
		FROM workflow_steps WHERE workflow_id = $1 ORDER BY step_order`), workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", storeErr(err))
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err)
		}
	}()

	steps := []models.Step{}

	for rows.Next() {
		var (
			def    models.StepDefinition
			config []byte
		)

		err := rows.Scan(&def.ID, &def.Order, &def.Kind, &def.Delay.Value, &def.Delay.Unit, &config)
		if err != nil {
			return fmt.Errorf("failed to scan workflow step: %w", err)
		}

		if err := json.Unmarshal(config, &def.Config); err != nil {
			return fmt.Errorf("failed to unmarshal step %d config: %w", def.Order, err)
		}

		step, err := models.DecodeStep(def)
		if err != nil {
			return persistence.NewWorkflowError("DecodeStep", workflow.ID, err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate workflow steps: %w", storeErr(err))
	}

	workflow.Steps = steps

	return nil
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var workflow models.Workflow

	err := row.Scan(&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Status, &workflow.CreatedAt, &workflow.UpdatedAt)
	if err != nil {
		return nil, err
	}

	workflow.CreatedAt = workflow.CreatedAt.UTC()
	workflow.UpdatedAt = workflow.UpdatedAt.UTC()

	return &workflow, nil
}
