// Package engine advances subscriber cursors through workflow step graphs.
//
// The engine keeps no state between calls. Enrollment is an atomic upsert in
// the store; every cursor write is conditional on the version it was read at,
// and a cursor is claimed before any side effect runs, so concurrent batch
// passes apply each step at most once per claim.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/otelhelper"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultClaimTTL    = 5 * time.Minute
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// EmailSender delivers a rendered email.
type EmailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// ActionDispatcher applies an action step to a subscriber.
type ActionDispatcher interface {
	Execute(ctx context.Context, req actions.Request) error
}

type Config struct {
	// FromAddress is the sender of every workflow email.
	FromAddress string
	// MaxAttempts is the number of consecutive failures of one step before the
	// cursor is dead-lettered. Zero retries forever.
	MaxAttempts int
	// RetryBackoff delays the retry of a failed step.
	RetryBackoff time.Duration
	// ClaimTTL bounds how long a claimed cursor is hidden from other passes.
	ClaimTTL    time.Duration
	BatchSize   int
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = DefaultClaimTTL
	}

	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}

	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}

	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}

	return c
}

type Engine struct {
	store      persistence.Persistence
	sender     EmailSender
	dispatcher ActionDispatcher
	evaluator  condition.Evaluator
	publisher  eventbus.EventPublisher
	logger     *slog.Logger
	tracer     trace.Tracer
	config     Config
	now        func() time.Time
	validate   *validator.Validate
}

type Option func(*Engine)

func WithConfig(config Config) Option {
	return func(e *Engine) { e.config = config }
}

// WithPublisher sends lifecycle events to publisher.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func New(
	store persistence.Persistence,
	sender EmailSender,
	dispatcher ActionDispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		sender:     sender,
		dispatcher: dispatcher,
		publisher:  eventbus.NopPublisher{},
		logger:     logger.With("module", "engine"),
		tracer:     otelhelper.Tracer(),
		now:        time.Now,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.config = e.config.withDefaults()

	return e
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// HealthCheck reports whether the store is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if err := e.store.HealthCheck(ctx); err != nil {
		return storeError("HealthCheck", err)
	}

	return nil
}

func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if err := e.publisher.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "failed to publish event",
			"event_type", string(event.GetType()), "key", key, "error", err)
	}
}
