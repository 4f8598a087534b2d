package sqlbase

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"

	"github.com/dukex/nurture/pkg/persistence"
)

// Dialect captures the differences between the SQL engines the repositories run on.
// Queries are written with PostgreSQL $N placeholders.
type Dialect struct {
	Name string
	// Rebind rewrites a query's placeholders for the engine. Nil leaves it unchanged.
	Rebind func(query string) string
	// IsUniqueViolation reports a unique-constraint failure.
	IsUniqueViolation func(err error) bool
}

var dollarPlaceholder = regexp.MustCompile(`\$(\d+)`)

// RebindNumbered turns $N placeholders into ?N, which SQLite binds by position.
func RebindNumbered(query string) string {
	return dollarPlaceholder.ReplaceAllString(query, "?$1")
}

func (d Dialect) rebind(query string) string {
	if d.Rebind == nil {
		return query
	}

	return d.Rebind(query)
}

func (d Dialect) uniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// storeErr marks connectivity failures with persistence.ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return errors.Join(persistence.ErrStoreUnavailable, err)
	}

	return err
}
