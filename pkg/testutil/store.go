package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/persistence/sqlite"
	"github.com/stretchr/testify/require"
)

// NewStore returns a migrated in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *sqlite.Persistence {
	t.Helper()

	ctx := context.Background()

	store, err := sqlite.NewPersistence(ctx, Logger(), "")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close(ctx)
	})

	return store
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = now.UTC()
}
