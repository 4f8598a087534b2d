package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("ByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("Advance", "exec-1", persistence.ErrStaleExecution)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsNotFound(workflowErr))
		assert.True(t, persistence.IsStale(executionErr))
		assert.False(t, persistence.IsNotFound(executionErr))

		assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", executionErr), persistence.ErrStaleExecution))
	})

	t.Run("errors contain context", func(t *testing.T) {
		err := persistence.NewExecutionError("Claim", "exec-42", persistence.ErrExecutionNotFound)

		assert.Contains(t, err.Error(), "Claim")
		assert.Contains(t, err.Error(), "exec-42")
		assert.Contains(t, err.Error(), "execution not found")
	})
}
