package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/nurture/pkg/persistence"
)

// Client errors (4xx on the trigger path).
var (
	// ErrValidation marks a malformed or incomplete request.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown workflow, subscriber or execution.
	ErrNotFound = errors.New("not found")
	// ErrInactiveWorkflow rejects enrollment into a workflow that is not active.
	ErrInactiveWorkflow = errors.New("workflow is not active")
	// ErrInvalidTransition rejects a lifecycle change the cursor's status does not allow.
	ErrInvalidTransition = errors.New("invalid execution status transition")
)

// ErrConcurrencyConflict is a lost compare-and-swap on a cursor. The engine
// treats it as "already handled" and never reports it as a failure.
var ErrConcurrencyConflict = persistence.ErrStaleExecution

// EngineError carries the operation that failed alongside one of the sentinels above.
type EngineError struct {
	Op      string
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func newError(op string, err error, format string, args ...any) *EngineError {
	return &EngineError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// ExternalServiceError wraps a failed email send or action dispatch. It is retryable.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// StoreError means the persistent store could not serve a request.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}

	return &StoreError{Op: op, Err: err}
}

// IsValidationError reports errors that should be answered with HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInactiveWorkflow)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsExternalServiceError(err error) bool {
	var ese *ExternalServiceError

	return errors.As(err, &ese)
}

func IsStoreError(err error) bool {
	var se *StoreError

	return errors.As(err, &se) || errors.Is(err, persistence.ErrStoreUnavailable)
}
