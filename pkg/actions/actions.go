// Package actions dispatches the side-effecting operations an action step applies to a subscriber.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/nurture/pkg/models"
)

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrInvalidParams = errors.New("invalid action params")
)

// Request is one action invocation for one cursor.
type Request struct {
	Type   models.ActionType
	Params map[string]any

	WorkflowID   string
	ExecutionID  string
	StepID       string
	Subscriber   *models.Subscriber
	Metadata     map[string]any

	// IdempotencyKey is stable across retries of the same claimed attempt.
	IdempotencyKey string
}

func (r Request) SubscriberID() string {
	if r.Subscriber == nil {
		return ""
	}

	return r.Subscriber.ID
}

// Handler executes one action type.
type Handler interface {
	Type() models.ActionType
	Description() string
	// Schema is the JSON schema of the Params the handler accepts.
	Schema() map[string]any
	Execute(ctx context.Context, req Request) error
}

// Dispatcher routes requests to the handler registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[models.ActionType]Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[models.ActionType]Handler, len(handlers)),
		logger:   logger.With("module", "actions"),
	}

	for _, h := range handlers {
		d.Register(h)
	}

	return d
}

func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[h.Type()] = h
}

func (d *Dispatcher) Handler(actionType models.ActionType) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h, ok := d.handlers[actionType]

	return h, ok
}

// Types returns the registered action types in sorted order.
func (d *Dispatcher) Types() []models.ActionType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]models.ActionType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Validate checks params against the schema of the handler for actionType.
func (d *Dispatcher) Validate(actionType models.ActionType, params map[string]any) error {
	h, ok := d.Handler(actionType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}

	return ValidateParams(h.Schema(), params)
}

func (d *Dispatcher) Execute(ctx context.Context, req Request) error {
	h, ok := d.Handler(req.Type)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, req.Type)
	}

	if err := ValidateParams(h.Schema(), req.Params); err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}

	logger := d.logger.With(
		"action_type", string(req.Type),
		"execution_id", req.ExecutionID,
		"subscriber_id", req.SubscriberID(),
	)
	logger.DebugContext(ctx, "executing action")

	if err := h.Execute(ctx, req); err != nil {
		logger.WarnContext(ctx, "action failed", "error", err)

		return fmt.Errorf("%s: %w", req.Type, err)
	}

	return nil
}
