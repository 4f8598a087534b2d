package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestControl_PauseResumeCancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	paused, err := f.engine.Pause(ctx, enrolled.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)

	assert.Equal(t, engine.RunResult{}, f.runDue(t), "paused cursors are not due")

	_, err = f.engine.Pause(ctx, enrolled.ExecutionID)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)
	assert.True(t, engine.IsConflict(err))

	f.clock.Advance(time.Hour)

	resumed, err := f.engine.Resume(ctx, enrolled.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, resumed.Status)
	assert.True(t, start.Add(time.Hour).Equal(resumed.NextStepAt), "resume never makes a cursor due in the past")

	assert.Equal(t, 1, f.runDue(t).Processed)

	cancelled, err := f.engine.Cancel(ctx, enrolled.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	_, err = f.engine.Resume(ctx, enrolled.ExecutionID)
	require.ErrorIs(t, err, engine.ErrInvalidTransition)

	assert.Equal(t, engine.RunResult{}, f.runDue(t))
}

func TestControl_TerminalStatesAreFinal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Delay(1, 0, models.DelayUnitMinutes))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	f.runDue(t)
	require.Equal(t, models.ExecutionStatusCompleted, f.execution(t, enrolled.ExecutionID).Status)

	for name, op := range map[string]func(context.Context, string) (*models.Execution, error){
		"pause":  f.engine.Pause,
		"resume": f.engine.Resume,
		"cancel": f.engine.Cancel,
	} {
		_, err := op(ctx, enrolled.ExecutionID)
		require.ErrorIs(t, err, engine.ErrInvalidTransition, name)
	}
}

func TestControl_Unknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, engine.Config{})

	_, err := f.engine.Pause(ctx, "missing")
	require.ErrorIs(t, err, engine.ErrNotFound)

	_, err = f.engine.Execution(ctx, "missing")
	assert.True(t, engine.IsNotFound(err))
}

func TestExecution_Detail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.runDue(t)

	detail, err := f.engine.Execution(context.Background(), enrolled.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, enrolled.ExecutionID, detail.Execution.ID)
	assert.Equal(t, 2, detail.Execution.CurrentStep)
	require.Len(t, detail.Logs, 1)
	assert.Equal(t, models.StepLogStatusSent, detail.Logs[0].Status)
}
