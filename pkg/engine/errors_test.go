package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		validation bool
		notFound   bool
		conflict   bool
		external   bool
		store      bool
	}{
		{name: "validation", err: newError("Trigger", ErrValidation, "x"), validation: true},
		{name: "inactive", err: newError("Trigger", ErrInactiveWorkflow, "x"), validation: true},
		{name: "not found", err: newError("Trigger", ErrNotFound, "x"), notFound: true},
		{name: "transition", err: newError("Pause", ErrInvalidTransition, "x"), conflict: true},
		{name: "external", err: &ExternalServiceError{Service: "email", Err: errors.New("smtp")}, external: true},
		{name: "store", err: storeError("Due", errors.New("conn reset")), store: true},
		{name: "unavailable", err: fmt.Errorf("wrapped: %w", persistence.ErrStoreUnavailable), store: true},
		{name: "plain", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.validation, IsValidationError(tt.err))
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.conflict, IsConflict(tt.err))
			assert.Equal(t, tt.external, IsExternalServiceError(tt.err))
			assert.Equal(t, tt.store, IsStoreError(tt.err))
		})
	}
}

func TestStoreError_NotDoubleWrapped(t *testing.T) {
	t.Parallel()

	inner := storeError("Claim", errors.New("conn reset"))
	outer := storeError("RunDue", inner)

	assert.Same(t, inner, outer)
	assert.Equal(t, "store error during Claim: conn reset", outer.Error())
}

func TestConcurrencyConflictIsStale(t *testing.T) {
	t.Parallel()

	err := persistence.NewExecutionError("Advance", "exec-1", persistence.ErrStaleExecution)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}
