package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRunDue_ConcurrentPassesSendOnce(t *testing.T) {
	t.Parallel()

	store := testutil.NewStore(t)
	sender := &recordingSender{}

	newEngine := func() *engine.Engine {
		return engine.New(store, sender, &mocks.MockActionDispatcher{}, testutil.Logger(),
			engine.WithConfig(engine.Config{FromAddress: "hi@nurture.test", Concurrency: 8}),
			engine.WithClock(testutil.NewClock(start).Now))
	}

	workflow := testutil.CreateTestWorkflow([]models.Step{
		testutil.Email(1, "Welcome", "Body"),
		testutil.Email(2, "Later", "Body"),
	})
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	const subscribers = 10

	for range subscribers {
		subscriber := testutil.CreateTestSubscriber()
		require.NoError(t, store.SubscriberRepository().Save(context.Background(), subscriber))

		_, err := newEngine().Trigger(context.Background(), engine.TriggerRequest{WorkflowID: workflow.ID, SubscriberID: subscriber.ID})
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []engine.RunResult
	)

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := newEngine().RunDue(context.Background())
			assert.NoError(t, err)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, subscribers, sender.count(), "every email is sent exactly once")

	total := 0
	for _, r := range results {
		total += r.Processed
		assert.Zero(t, r.Errors)
	}

	assert.Equal(t, subscribers, total)
}

func TestRunDue_IsolatesFailures(t *testing.T) {
	t.Parallel()

	base := testutil.NewStore(t)
	flaky := &flakyStore{Persistence: base, subscriberErr: map[string]error{}}
	f := newFixtureWithStore(t, flaky, engine.Config{Concurrency: 1})

	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"), testutil.Email(2, "Next", "Body"))

	healthy := f.subscriber(t)
	broken := f.subscriber(t)
	failing := f.subscriber(t)

	okRun := f.trigger(t, workflow, healthy)
	brokenRun := f.trigger(t, workflow, broken)
	failingRun := f.trigger(t, workflow, failing)

	flaky.subscriberErr[broken.ID] = errors.New("corrupt attributes column")

	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(msg email.Message) bool {
		return msg.To == failing.Email
	})).Return(errors.New("mailbox full"))
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	result := f.runDue(t)
	assert.Equal(t, engine.RunResult{Processed: 1, Errors: 2}, result)

	assert.Equal(t, 2, f.execution(t, okRun.ExecutionID).CurrentStep)
	assert.Equal(t, 1, f.execution(t, failingRun.ExecutionID).CurrentStep)

	brokenLogs := f.logs(t, brokenRun.ExecutionID)
	require.Len(t, brokenLogs, 1)
	assert.Equal(t, models.StepLogStatusFailed, brokenLogs[0].Status)
	assert.Nil(t, brokenLogs[0].StepID, "no step context")
	assert.Contains(t, brokenLogs[0].ErrorMessage, "corrupt attributes column")
}

func TestRunDue_AbortsWhenStoreIsDown(t *testing.T) {
	t.Parallel()

	base := testutil.NewStore(t)
	flaky := &flakyStore{Persistence: base, subscriberErr: map[string]error{}}
	f := newFixtureWithStore(t, flaky, engine.Config{Concurrency: 1})

	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"))
	subscriber := f.subscriber(t)
	f.trigger(t, workflow, subscriber)

	flaky.subscriberErr[subscriber.ID] = persistence.ErrStoreUnavailable

	_, err := f.engine.RunDue(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsStoreError(err))

	flaky.subscriberErr[subscriber.ID] = errors.New("connection reset")
	flaky.healthErr = errors.New("database is down")

	_, err = f.engine.RunDue(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsStoreError(err))

	flaky.dueErr = errors.New("database is down")

	_, err = f.engine.RunDue(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsStoreError(err))
}

func TestRunDue_PagesThroughBacklog(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{BatchSize: 2})
	workflow := f.workflow(t, testutil.Delay(1, 0, models.DelayUnitMinutes))

	for range 5 {
		f.trigger(t, workflow, f.subscriber(t))
	}

	assert.Equal(t, engine.RunResult{Processed: 5}, f.runDue(t))
	assert.Equal(t, engine.RunResult{}, f.runDue(t))
}

func TestRunDue_SelectsEveryDueCursor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	workflow := f.workflow(t,
		testutil.Email(1, "Welcome", "Body"),
		testutil.Delay(2, 1, models.DelayUnitDays),
	)

	const subscribers = engine.DefaultBatchSize + 50

	for range subscribers {
		f.trigger(t, workflow, f.subscriber(t))
	}

	assert.Equal(t, engine.RunResult{Processed: subscribers}, f.runDue(t))

	executions, err := f.store.ExecutionRepository().ListByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	require.Len(t, executions, subscribers)

	for _, execution := range executions {
		assert.Equal(t, 2, execution.CurrentStep)
	}

	f.sender.AssertNumberOfCalls(t, "Send", subscribers)
}

func TestRunDue_AttemptsEachCursorOncePerPass(t *testing.T) {
	t.Parallel()

	// Zero delays keep every advanced cursor due at the frozen clock.
	f := newFixture(t, engine.Config{BatchSize: 1})
	f.sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	workflow := f.workflow(t,
		testutil.Email(1, "One", "Body"),
		testutil.Email(2, "Two", "Body"),
		testutil.Email(3, "Three", "Body"),
	)

	var ids []string
	for range 3 {
		ids = append(ids, f.trigger(t, workflow, f.subscriber(t)).ExecutionID)
	}

	assert.Equal(t, engine.RunResult{Processed: 3}, f.runDue(t))

	for _, id := range ids {
		assert.Equal(t, 2, f.execution(t, id).CurrentStep)
	}

	assert.Equal(t, engine.RunResult{Processed: 3}, f.runDue(t))

	for _, id := range ids {
		assert.Equal(t, 3, f.execution(t, id).CurrentStep)
	}

	f.sender.AssertNumberOfCalls(t, "Send", 6)
}

func TestRunDue_PageReadFailureAborts(t *testing.T) {
	t.Parallel()

	base := testutil.NewStore(t)
	flaky := &flakyStore{Persistence: base, subscriberErr: map[string]error{}, dueAfterErr: errors.New("connection reset")}
	f := newFixtureWithStore(t, flaky, engine.Config{BatchSize: 1})

	workflow := f.workflow(t, testutil.Delay(1, 0, models.DelayUnitMinutes))
	f.trigger(t, workflow, f.subscriber(t))
	f.trigger(t, workflow, f.subscriber(t))

	result, err := f.engine.RunDue(context.Background())
	require.Error(t, err)
	assert.True(t, engine.IsStoreError(err))
	assert.Equal(t, 1, result.Processed, "the first page was applied")
}

func TestRunDue_CursorBeyondGraphCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, engine.Config{})
	workflow := f.workflow(t, testutil.Email(1, "Hi", "Body"))
	enrolled := f.trigger(t, workflow, f.subscriber(t))

	// Replace the steps with one beyond the cursor's position.
	workflow.Steps = []models.Step{testutil.Email(5, "Far away", "Body")}
	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), workflow))

	assert.Equal(t, engine.RunResult{Processed: 1}, f.runDue(t))
	assert.Equal(t, models.ExecutionStatusCompleted, f.execution(t, enrolled.ExecutionID).Status)
}
