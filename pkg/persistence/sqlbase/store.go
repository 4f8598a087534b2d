package sqlbase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/persistence"
)

// Store implements persistence.Persistence over a database/sql handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	workflows   *WorkflowRepository
	subscribers *SubscriberRepository
	executions  *ExecutionRepository
	stepLogs    *StepLogRepository
}

var _ persistence.Persistence = (*Store)(nil)

// NewStore pings db, applies migrations and wires the repositories.
func NewStore(ctx context.Context, logger *slog.Logger, db *sql.DB, dialect Dialect, migrations map[int]string) (*Store, error) {
	err := db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", storeErr(err))
	}

	migrationManager := NewMigrationManager(logger, db, dialect, migrations)

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:          db,
		logger:      logger,
		workflows:   NewWorkflowRepository(db, dialect, logger),
		subscribers: NewSubscriberRepository(db, dialect, logger),
		executions:  NewExecutionRepository(db, dialect, logger),
		stepLogs:    NewStepLogRepository(db, dialect, logger),
	}, nil
}

func (s *Store) WorkflowRepository() persistence.WorkflowRepository     { return s.workflows }
func (s *Store) SubscriberRepository() persistence.SubscriberRepository { return s.subscribers }
func (s *Store) ExecutionRepository() persistence.ExecutionRepository   { return s.executions }
func (s *Store) StepLogRepository() persistence.StepLogRepository       { return s.stepLogs }

// DB exposes the underlying handle, mainly for tests and tooling.
func (s *Store) DB() *sql.DB { return s.db }

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to ping database: %w", persistence.ErrStoreUnavailable, err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(ctx context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
