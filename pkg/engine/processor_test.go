package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func scenarioSteps() []models.Step {
	return []models.Step{
		testutil.Email(1, "Welcome {{name}}", "<p>Hi {{first_name}}</p>"),
		testutil.Delay(2, 2, models.DelayUnitDays),
		testutil.Condition(3, "total_opens", models.OperatorGreaterThan, "1", 4, 8),
		testutil.Action(4, models.ActionAddTag, map[string]any{"tag": "Engaged"}),
		testutil.Email(8, "We miss you", "<p>Come back</p>"),
	}
}

func TestScenario_LowEngagementBranchesToStep8(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, scenarioSteps()...)
	subscriber := f.subscriber(t, testutil.WithTotalOpens(0))

	var subjects []string

	f.sender.On("Send", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		subjects = append(subjects, args.Get(1).(email.Message).Subject)
	}).Return(nil)

	enrolled := f.trigger(t, workflow, subscriber)

	// Step 1 sends, then the cursor waits two days before entering step 2.
	assert.Equal(t, engine.RunResult{Processed: 1}, f.runDue(t))

	execution := f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, 2, execution.CurrentStep)
	assert.WithinDuration(t, start.Add(172800000*time.Millisecond), execution.NextStepAt, time.Second)

	assert.Zero(t, f.runDue(t).Processed)

	f.clock.Advance(48 * time.Hour)
	assert.Equal(t, 1, f.runDue(t).Processed) // delay step
	assert.Equal(t, 3, f.execution(t, enrolled.ExecutionID).CurrentStep)

	assert.Equal(t, 1, f.runDue(t).Processed) // condition
	assert.Equal(t, 8, f.execution(t, enrolled.ExecutionID).CurrentStep)

	assert.Equal(t, 1, f.runDue(t).Processed) // last email
	execution = f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.CompletedAt)
	assert.Equal(t, f.clock.Now(), *execution.CompletedAt)

	assert.Equal(t, engine.RunResult{}, f.runDue(t), "completed cursors are not selected again")

	assert.Equal(t, []string{"Welcome Ana Souza", "We miss you"}, subjects)
	f.dispatcher.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	logs := f.logs(t, enrolled.ExecutionID)
	require.Len(t, logs, 4)

	var orders []int
	for _, entry := range logs {
		assert.Equal(t, models.StepLogStatusSent, entry.Status)
		orders = append(orders, *entry.StepOrder)
	}

	assert.Equal(t, []int{1, 2, 3, 8}, orders)

	assert.Contains(t, publishedTypes(f.publisher), events.ExecutionCompletedEvent)
}

func TestScenario_EngagedBranchesToStep4(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, scenarioSteps()...)
	subscriber := f.subscriber(t, testutil.WithTotalOpens(5))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)
	f.dispatcher.On("Execute", mock.Anything, mock.MatchedBy(func(req actions.Request) bool {
		return req.Type == models.ActionAddTag && req.Params["tag"] == "Engaged" && req.Subscriber.ID == subscriber.ID
	})).Return(nil).Once()

	enrolled := f.trigger(t, workflow, subscriber)

	f.runDue(t)
	f.clock.Advance(48 * time.Hour)
	f.runDue(t)
	f.runDue(t)
	assert.Equal(t, 4, f.execution(t, enrolled.ExecutionID).CurrentStep)

	f.runDue(t)

	f.dispatcher.AssertExpectations(t)
	assert.Equal(t, []models.ActionType{models.ActionAddTag}, dispatchedTypes(f.dispatcher))
	f.sender.AssertNumberOfCalls(t, "Send", 1)

	// Step 5 does not exist, so the action was the last step.
	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, enrolled.ExecutionID).Status)
}

func TestAdvance_EmailMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{FromAddress: "team@nurture.test"})
	workflow := f.workflow(t, testutil.Email(1, "Hello {{first_name}}", "<p>{{metadata.coupon}} for {{email}}</p>"))
	subscriber := f.subscriber(t)

	result, err := f.engine.Trigger(context.Background(), engine.TriggerRequest{
		WorkflowID:   workflow.ID,
		SubscriberID: subscriber.ID,
		Metadata:     map[string]any{"coupon": "SPRING10"},
	})
	require.NoError(t, err)

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.From == "team@nurture.test" &&
			msg.To == subscriber.Email &&
			msg.Subject == "Hello Ana" &&
			msg.HTML == "<p>SPRING10 for "+subscriber.Email+"</p>" &&
			msg.ExecutionID == result.ExecutionID &&
			msg.IdempotencyKey != ""
	})).Return(nil).Once()

	f.runDue(t)
	f.sender.AssertExpectations(t)
}

func TestAdvance_UnsubscribedSkipsEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Again", "Body"))
	subscriber := f.subscriber(t, func(s *models.Subscriber) { s.Subscribed = false })
	enrolled := f.trigger(t, workflow, subscriber)

	assert.Equal(t, engine.RunResult{Processed: 1}, f.runDue(t))

	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Equal(t, 2, f.execution(t, enrolled.ExecutionID).CurrentStep)

	logs := f.logs(t, enrolled.ExecutionID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StepLogStatusSent, logs[0].Status)
}

func TestAdvance_FailureKeepsStepAndLogs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{RetryBackoff: 10 * time.Minute})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	f.sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp timeout")).Once()
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	assert.Equal(t, engine.RunResult{Errors: 1}, f.runDue(t))

	execution := f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, 1, execution.CurrentStep)
	assert.Equal(t, models.ExecutionStatusActive, execution.Status)
	assert.Equal(t, 1, execution.Attempts)
	assert.Contains(t, execution.LastError, "smtp timeout")
	assert.Equal(t, start.Add(10*time.Minute), execution.NextStepAt)
	assert.Nil(t, execution.ClaimedUntil)

	logs := f.logs(t, enrolled.ExecutionID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.StepLogStatusFailed, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "smtp timeout")
	require.NotNil(t, logs[0].StepID)
	assert.Equal(t, "step-1", *logs[0].StepID)

	assert.Equal(t, engine.RunResult{}, f.runDue(t), "backoff hides the cursor")

	f.clock.Advance(10 * time.Minute)
	assert.Equal(t, engine.RunResult{Processed: 1}, f.runDue(t))

	execution = f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, 2, execution.CurrentStep)
	assert.Zero(t, execution.Attempts)
	assert.Empty(t, execution.LastError)

	assert.Contains(t, publishedTypes(f.publisher), events.StepFailedEvent)
}

func TestAdvance_DeadLetter(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{MaxAttempts: 2})
	workflow := f.workflow(t, testutil.Action(1, models.ActionSendWebhook, map[string]any{"url": "https://crm.test/hook"}))
	subscriber := f.subscriber(t)
	enrolled := f.trigger(t, workflow, subscriber)

	f.dispatcher.On("Execute", mock.Anything, mock.Anything).Return(errors.New("502 from crm"))

	due, err := f.store.ExecutionRepository().Due(context.Background(), f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	first, err := f.engine.Advance(context.Background(), due[0], mustGraph(t, workflow), subscriber)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeFailed, first.Outcome)
	assert.True(t, engine.IsExternalServiceError(first.Err))

	assert.Equal(t, engine.RunResult{Errors: 1}, f.runDue(t))

	execution := f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 2, execution.Attempts)
	require.NotNil(t, execution.CompletedAt)

	assert.Equal(t, engine.RunResult{}, f.runDue(t), "dead-lettered cursors are not due")
	assert.Contains(t, publishedTypes(f.publisher), events.ExecutionDeadLetteredEvent)
	assert.Len(t, f.logs(t, enrolled.ExecutionID), 2)
}

func TestAdvance_ClaimLoserDoesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))
	subscriber := f.subscriber(t)
	enrolled := f.trigger(t, workflow, subscriber)

	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	snapshot := f.execution(t, enrolled.ExecutionID)
	graph := mustGraph(t, workflow)

	winner, err := f.engine.Advance(context.Background(), snapshot, graph, subscriber)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeAdvanced, winner.Outcome)
	assert.Equal(t, 2, winner.NextStep)

	// Same stale snapshot, as a concurrent pass would hold it.
	loser, err := f.engine.Advance(context.Background(), snapshot, graph, subscriber)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSkipped, loser.Outcome)

	f.sender.AssertNumberOfCalls(t, "Send", 1)
	assert.Len(t, f.logs(t, enrolled.ExecutionID), 1)
}

func TestAdvance_MissingStepCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(2, "Only step two", "Body"))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	assert.Equal(t, engine.RunResult{Processed: 1}, f.runDue(t))

	execution := f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 1, execution.CurrentStep)
	assert.Empty(t, f.logs(t, enrolled.ExecutionID))
	f.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestAdvance_NotDueIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"))
	subscriber := f.subscriber(t)
	enrolled := f.trigger(t, workflow, subscriber)

	execution := f.execution(t, enrolled.ExecutionID)
	execution.NextStepAt = start.Add(time.Hour)

	result, err := f.engine.Advance(context.Background(), execution, mustGraph(t, workflow), subscriber)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeSkipped, result.Outcome)

	_, err = f.engine.Advance(context.Background(), f.execution(t, enrolled.ExecutionID), nil, subscriber)
	require.ErrorIs(t, err, engine.ErrValidation)
}

func TestAdvance_PauseDuringStepHolds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))
	subscriber := f.subscriber(t)
	enrolled := f.trigger(t, workflow, subscriber)

	f.sender.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		_, err := f.engine.Pause(context.Background(), enrolled.ExecutionID)
		assert.NoError(t, err)
	}).Return(nil).Once()

	f.runDue(t)

	execution := f.execution(t, enrolled.ExecutionID)
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)
	assert.Equal(t, 2, execution.CurrentStep, "the finished step is still recorded")
}

func mustGraph(t *testing.T, workflow *models.Workflow) *models.Graph {
	t.Helper()

	graph, err := workflow.Graph()
	require.NoError(t, err)

	return graph
}
