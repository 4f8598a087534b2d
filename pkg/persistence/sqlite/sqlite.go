// Package sqlite provides an embedded SQLite persistence implementation,
// used for single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nurture/pkg/persistence/sqlbase"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect is the SQLite flavour of the shared SQL repositories.
func Dialect() sqlbase.Dialect {
	return sqlbase.Dialect{
		Name:   "sqlite",
		Rebind: sqlbase.RebindNumbered,
		IsUniqueViolation: func(err error) bool {
			var sqliteErr *sqlite.Error
			if !errors.As(err, &sqliteErr) {
				return false
			}

			code := sqliteErr.Code()

			return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		},
	}
}

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlbase.Store
}

// NewPersistence opens the database at path (":memory:" for a private in-memory
// database) and applies migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	database, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer; one connection also keeps an in-memory database alive.
	database.SetMaxOpenConns(1)

	store, err := sqlbase.NewStore(ctx, logger, database, Dialect(), migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	return &Persistence{Store: store}, nil
}

// DSN appends the pragmas the repositories rely on to path.
func DSN(path string) string {
	if path == "" {
		path = ":memory:"
	}

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}

	return path + separator + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}
