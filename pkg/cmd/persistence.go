package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/persistence/postgresql"
	"github.com/dukex/nurture/pkg/persistence/sqlite"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

var supportedPersistenceProviders = []string{"postgres", "postgresql", "sqlite"}

// NewPersistence opens and migrates the store named by databaseURL:
// postgres:// or postgresql:// for PostgreSQL, sqlite://<path> for SQLite.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "opening store", "provider", provider)

	switch provider {
	case "postgres", "postgresql":
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		store, err := sqlite.NewPersistence(ctx, logger, rest)
		if err != nil {
			return nil, err
		}

		return store, nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, string, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", "", fmt.Errorf("%w: %q has no scheme", ErrUnsupportedDatabase, databaseURL)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, rest, nil
		}
	}

	return "", "", fmt.Errorf("%w: scheme %q (supported: %s)",
		ErrUnsupportedDatabase, provider, strings.Join(supportedPersistenceProviders, ", "))
}
