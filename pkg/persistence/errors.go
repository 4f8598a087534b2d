// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyExists indicates another workflow already uses the name.
	ErrWorkflowAlreadyExists = errors.New("workflow already exists")

	// ErrSubscriberNotFound indicates a subscriber was not found by id or email.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrExecutionNotFound indicates an execution cursor was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStaleExecution indicates a conditional cursor write matched no row:
	// another writer changed the cursor since it was read.
	ErrStaleExecution = errors.New("execution was modified concurrently")

	// ErrStoreUnavailable indicates the store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string // Operation being performed (e.g., "ByID", "Save")
	WorkflowID string // Workflow ID or name if applicable
	Err        error  // Underlying error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for workflow errors.
func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// ExecutionError wraps cursor-related errors with additional context.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsSubscriberNotFound checks if an error indicates a subscriber was not found.
func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStale checks if an error reports a lost compare-and-swap.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleExecution)
}

// IsNotFound reports any of the not-found conditions.
func IsNotFound(err error) bool {
	return IsWorkflowNotFound(err) || IsSubscriberNotFound(err) || IsExecutionNotFound(err)
}
