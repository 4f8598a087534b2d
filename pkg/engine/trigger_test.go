package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestTrigger_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	active := f.workflow(t, testutil.Email(1, "Hi", "Body"))

	inactive := testutil.CreateTestWorkflow([]models.Step{testutil.Email(1, "Hi", "Body")},
		testutil.WithWorkflowName("paused-campaign"),
		testutil.WithWorkflowStatus(models.WorkflowStatusInactive))
	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), inactive))

	tests := []struct {
		name  string
		req   engine.TriggerRequest
		check func(error) bool
	}{
		{"no workflow", engine.TriggerRequest{SubscriberEmail: "a@example.com"}, engine.IsValidationError},
		{"no subscriber", engine.TriggerRequest{WorkflowID: active.ID}, engine.IsValidationError},
		{"blank identifiers", engine.TriggerRequest{WorkflowName: "  ", SubscriberEmail: " "}, engine.IsValidationError},
		{"bad email", engine.TriggerRequest{WorkflowID: active.ID, SubscriberEmail: "not-an-email"}, engine.IsValidationError},
		{"unknown workflow id", engine.TriggerRequest{WorkflowID: "missing", SubscriberEmail: "a@example.com"}, engine.IsNotFound},
		{"unknown workflow name", engine.TriggerRequest{WorkflowName: "missing", SubscriberEmail: "a@example.com"}, engine.IsNotFound},
		{"unknown subscriber id", engine.TriggerRequest{WorkflowID: active.ID, SubscriberID: "missing"}, engine.IsNotFound},
		{"inactive workflow", engine.TriggerRequest{WorkflowID: inactive.ID, SubscriberEmail: "a@example.com"}, engine.IsValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := f.engine.Trigger(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	_, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{WorkflowID: inactive.ID, SubscriberEmail: "a@example.com"})
	require.ErrorIs(t, err, engine.ErrInactiveWorkflow)
}

func TestTrigger_CreatesSubscriberByEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"))

	result, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
		WorkflowName:    workflow.Name,
		SubscriberEmail: " New.Lead@Example.com ",
		Metadata:        map[string]any{"source": "landing-page"},
	})
	require.NoError(t, err)

	subscriber, err := f.store.SubscriberRepository().ByEmail(context.Background(), "new.lead@example.com")
	require.NoError(t, err)
	assert.True(t, subscriber.Subscribed)
	assert.Equal(t, subscriber.ID, result.SubscriberID)
	assert.Equal(t, workflow.ID, result.WorkflowID)
	assert.Equal(t, start, result.NextStepAt)
	assert.False(t, result.Restarted)

	execution := f.execution(t, result.ExecutionID)
	assert.Equal(t, 1, execution.CurrentStep)
	assert.Equal(t, models.ExecutionStatusActive, execution.Status)
	assert.Equal(t, "landing-page", execution.Metadata["source"])

	assert.Contains(t, publishedTypes(f.publisher), events.ExecutionEnrolledEvent)
}

func TestTrigger_IdempotentEnrollment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Again", "Body"))
	subscriber := f.subscriber(t)

	first := f.trigger(t, workflow, subscriber)

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.runDue(t)
	assert.Equal(t, 2, f.execution(t, first.ExecutionID).CurrentStep)

	f.clock.Advance(time.Hour)
	second := f.trigger(t, workflow, subscriber)

	assert.Equal(t, first.ExecutionID, second.ExecutionID)
	assert.True(t, second.Restarted)

	executions, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, 1, executions[0].CurrentStep, "re-trigger restarts at step 1")
	assert.Equal(t, start.Add(time.Hour), executions[0].StartedAt)
}

func TestTrigger_FirstStepDelay(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})

	first := testutil.Email(1, "Hi", "Body")
	first.Delay = models.Delay{Value: 2, Unit: models.DelayUnitHours}

	workflow := f.workflow(t, first)
	result := f.trigger(t, workflow, f.subscriber(t))

	assert.Equal(t, start.Add(2*time.Hour), result.NextStepAt)
	assert.Zero(t, f.runDue(t).Processed, "not due yet")
}
