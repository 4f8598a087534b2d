// Package postgresql provides the PostgreSQL persistence implementation.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Dialect is the PostgreSQL flavour of the shared SQL repositories.
func Dialect() sqlbase.Dialect {
	return sqlbase.Dialect{
		Name: "postgres",
		IsUniqueViolation: func(err error) bool {
			var pqErr *pq.Error

			return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
		},
	}
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlbase.Store
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	store, err := sqlbase.NewStore(ctx, logger, database, Dialect(), migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return &Persistence{Store: store}, nil
}
