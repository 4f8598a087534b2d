// Package persistencetest holds the behaviour every persistence.Persistence
// implementation must show, run by each backend's tests.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty, migrated store. Cleanup is the factory's job.
type Factory func(t *testing.T) persistence.Persistence

var base = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("Subscribers", func(t *testing.T) { testSubscribers(t, newStore(t)) })
	t.Run("Enroll", func(t *testing.T) { testEnroll(t, newStore(t)) })
	t.Run("ConcurrentEnroll", func(t *testing.T) { testConcurrentEnroll(t, newStore(t)) })
	t.Run("DueAndClaim", func(t *testing.T) { testDueAndClaim(t, newStore(t)) })
	t.Run("DuePaging", func(t *testing.T) { testDuePaging(t, newStore(t)) })
	t.Run("AdvanceCompleteRelease", func(t *testing.T) { testAdvanceCompleteRelease(t, newStore(t)) })
	t.Run("SetStatus", func(t *testing.T) { testSetStatus(t, newStore(t)) })
	t.Run("StepLogs", func(t *testing.T) { testStepLogs(t, newStore(t)) })
}

// SeedWorkflow stores a small active workflow.
func SeedWorkflow(t *testing.T, store persistence.Persistence, name string) *models.Workflow {
	t.Helper()

	workflow := &models.Workflow{
		Name:   name,
		Status: models.WorkflowStatusActive,
		Steps: []models.Step{
			models.EmailStep{StepBase: models.StepBase{ID: name + "-1", Order: 1}, Subject: "Welcome {{name}}", Body: "<p>Hi</p>"},
			models.DelayStep{StepBase: models.StepBase{ID: name + "-2", Order: 2, Delay: models.Delay{Value: 2, Unit: models.DelayUnitDays}}},
		},
	}
	require.NoError(t, store.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

// SeedSubscriber stores a subscriber with the given email.
func SeedSubscriber(t *testing.T, store persistence.Persistence, email string) *models.Subscriber {
	t.Helper()

	subscriber, err := store.SubscriberRepository().FindOrCreateByEmail(context.Background(), email)
	require.NoError(t, err)

	return subscriber
}

func enroll(t *testing.T, store persistence.Persistence, workflowID, subscriberID string, at time.Time) *models.Execution {
	t.Helper()

	execution, err := store.ExecutionRepository().Enroll(context.Background(), &models.Execution{
		WorkflowID:   workflowID,
		SubscriberID: subscriberID,
		CurrentStep:  1,
		Status:       models.ExecutionStatusActive,
		NextStepAt:   at,
		StartedAt:    at,
		Metadata:     map[string]any{"source": "suite"},
	})
	require.NoError(t, err)

	return execution
}

func testWorkflows(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()

	workflow := &models.Workflow{
		Name:        "welcome-series",
		Description: "onboarding",
		Status:      models.WorkflowStatusActive,
		Steps: []models.Step{
			models.EmailStep{StepBase: models.StepBase{Order: 1}, Subject: "Hello", Body: "<p>Hello {{name}}</p>"},
			models.ConditionStep{StepBase: models.StepBase{Order: 3}, Field: "total_opens", Operator: models.OperatorGreaterThan, Value: "1", TrueNext: 4, FalseNext: 8},
			models.ActionStep{StepBase: models.StepBase{Order: 4}, ActionType: models.ActionAddTag, Params: map[string]any{"tag": "Engaged"}},
			models.DelayStep{StepBase: models.StepBase{Order: 2, Delay: models.Delay{Value: 2, Unit: models.DelayUnitDays}}},
		},
	}

	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)

	loaded, err := repo.ByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "welcome-series", loaded.Name)
	assert.Equal(t, models.WorkflowStatusActive, loaded.Status)
	require.Len(t, loaded.Steps, 4)

	graph, err := loaded.Graph()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, graph.Orders())

	step, ok := graph.StepAt(3)
	require.True(t, ok)
	cond, ok := step.(models.ConditionStep)
	require.True(t, ok)
	assert.Equal(t, 8, cond.FalseNext)
	assert.Equal(t, "1", cond.Value)

	step, _ = graph.StepAt(4)
	assert.Equal(t, map[string]any{"tag": "Engaged"}, step.(models.ActionStep).Params)
	assert.Equal(t, 48*time.Hour, graph.DelayBefore(2))

	byName, err := repo.ByName(ctx, "welcome-series")
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, byName.ID)

	workflow.Steps = workflow.Steps[:1]
	require.NoError(t, repo.Save(ctx, workflow))
	loaded, err = repo.ByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Steps, 1)

	require.NoError(t, repo.SetStatus(ctx, workflow.ID, models.WorkflowStatusInactive))
	loaded, err = repo.ByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInactive, loaded.Status)

	_, err = repo.ByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	_, err = repo.ByName(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	assert.True(t, persistence.IsWorkflowNotFound(repo.SetStatus(ctx, "missing", models.WorkflowStatusActive)))

	duplicate := &models.Workflow{Name: "welcome-series", Status: models.WorkflowStatusDraft}
	assert.ErrorIs(t, repo.Save(ctx, duplicate), persistence.ErrWorkflowAlreadyExists)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testSubscribers(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.SubscriberRepository()

	created, err := repo.FindOrCreateByEmail(ctx, "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.True(t, created.Subscribed)

	again, err := repo.FindOrCreateByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	created.FirstName = "Ada"
	created.TotalOpens = 3
	created.TotalSpent = 49.9
	created.Tags = []string{"newsletter", "newsletter", "beta"}
	created.Attributes = map[string]any{"plan": "pro"}
	require.NoError(t, repo.Save(ctx, created))

	loaded, err := repo.ByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", loaded.FirstName)
	assert.Equal(t, 3, loaded.TotalOpens)
	assert.InDelta(t, 49.9, loaded.TotalSpent, 0.001)
	assert.Equal(t, []string{"beta", "newsletter"}, loaded.Tags)
	assert.Equal(t, "pro", loaded.Attributes["plan"])

	require.NoError(t, repo.AddTag(ctx, created.ID, "Engaged"))
	require.NoError(t, repo.AddTag(ctx, created.ID, "Engaged"))
	require.NoError(t, repo.AddTag(ctx, created.ID, "engaged"))
	require.NoError(t, repo.AddTag(ctx, created.ID, " NEWSLETTER "))
	require.NoError(t, repo.RemoveTag(ctx, created.ID, "BETA"))
	require.NoError(t, repo.RemoveTag(ctx, created.ID, "never-added"))

	tags, err := repo.Tags(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Engaged", "newsletter"}, tags)

	score, err := repo.AdjustLeadScore(ctx, created.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, 15, score)

	score, err = repo.AdjustLeadScore(ctx, created.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, 10, score)

	require.NoError(t, repo.SetEngagement(ctx, created.ID, "high"))

	byEmail, err := repo.ByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "high", byEmail.EngagementLevel)
	assert.Equal(t, 10, byEmail.LeadScore)

	_, err = repo.ByID(ctx, "missing")
	assert.True(t, persistence.IsSubscriberNotFound(err))
	assert.True(t, persistence.IsSubscriberNotFound(repo.AddTag(ctx, "missing", "x")))
	assert.True(t, persistence.IsSubscriberNotFound(repo.SetEngagement(ctx, "missing", "low")))

	_, err = repo.AdjustLeadScore(ctx, "missing", 1)
	assert.True(t, persistence.IsSubscriberNotFound(err))
}

func testEnroll(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	workflow := SeedWorkflow(t, store, "enroll-wf")
	subscriber := SeedSubscriber(t, store, "enroll@example.com")

	first := enroll(t, store, workflow.ID, subscriber.ID, base)
	assert.Equal(t, 1, first.CurrentStep)
	assert.Equal(t, models.ExecutionStatusActive, first.Status)
	assert.Equal(t, int64(1), first.Version)
	assert.WithinDuration(t, base, first.NextStepAt, time.Millisecond)
	assert.Equal(t, "suite", first.Metadata["source"])

	require.NoError(t, repo.Complete(ctx, first.ID, first.Version, base.Add(time.Hour)))

	second := enroll(t, store, workflow.ID, subscriber.ID, base.Add(2*time.Hour))
	assert.Equal(t, first.ID, second.ID, "re-enrollment keeps the single cursor")
	assert.Equal(t, models.ExecutionStatusActive, second.Status)
	assert.Nil(t, second.CompletedAt)
	assert.Greater(t, second.Version, first.Version)

	all, err := repo.ListByWorkflow(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = repo.ByID(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testConcurrentEnroll(t *testing.T, store persistence.Persistence) {
	workflow := SeedWorkflow(t, store, "concurrent-wf")
	subscriber := SeedSubscriber(t, store, "race@example.com")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			execution, err := store.ExecutionRepository().Enroll(context.Background(), &models.Execution{
				WorkflowID: workflow.ID, SubscriberID: subscriber.ID, CurrentStep: 1,
				Status: models.ExecutionStatusActive, NextStepAt: base, StartedAt: base,
			})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			ids[execution.ID] = true
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Len(t, ids, 1)

	all, err := store.ExecutionRepository().ListByWorkflow(context.Background(), workflow.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testDueAndClaim(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	workflow := SeedWorkflow(t, store, "due-wf")
	now := base.Add(time.Hour)

	due := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "due@example.com").ID, base)
	enroll(t, store, workflow.ID, SeedSubscriber(t, store, "later@example.com").ID, now.Add(time.Minute))
	paused := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "paused@example.com").ID, base)
	require.NoError(t, repo.SetStatus(ctx, paused.ID, []models.ExecutionStatus{models.ExecutionStatusActive}, models.ExecutionStatusPaused, now))

	list, err := repo.Due(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	claimed, err := repo.Claim(ctx, list[0], now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, list[0].Version+1, claimed.Version)

	_, err = repo.Claim(ctx, list[0], now, now.Add(5*time.Minute))
	assert.True(t, persistence.IsStale(err), "second claim of the same read loses")

	list, err = repo.Due(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, list, "claimed cursors are not due")

	list, err = repo.Due(ctx, now.Add(10*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, list, 2, "expired leases and newly due cursors are selected")

	list, err = repo.Due(ctx, now.Add(10*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testDuePaging(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	workflow := SeedWorkflow(t, store, "paging-wf")
	now := base.Add(time.Hour)

	// Two cursors share a timestamp so the id breaks the tie.
	enrolled := map[string]bool{}
	for i, at := range []time.Time{base, base, base.Add(time.Minute), base.Add(2 * time.Minute), base.Add(3 * time.Minute)} {
		subscriber := SeedSubscriber(t, store, fmt.Sprintf("page-%d@example.com", i))
		enrolled[enroll(t, store, workflow.ID, subscriber.ID, at).ID] = true
	}

	seen := map[string]bool{}

	page, err := repo.Due(ctx, now, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	for len(page) > 0 {
		for _, execution := range page {
			assert.False(t, seen[execution.ID], "no cursor is returned twice")
			seen[execution.ID] = true
		}

		page, err = repo.DueAfter(ctx, now, page[len(page)-1], 2)
		require.NoError(t, err)
	}

	assert.Equal(t, enrolled, seen)

	all, err := repo.DueAfter(ctx, now, nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 5, "a nil position starts from the beginning")
}

func testAdvanceCompleteRelease(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	workflow := SeedWorkflow(t, store, "advance-wf")
	execution := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "advance@example.com").ID, base)

	claimed, err := repo.Claim(ctx, execution, base, base.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, persistence.IsStale(repo.Advance(ctx, execution.ID, execution.Version, 2, base, base)), "pre-claim version is stale")

	next := base.Add(48 * time.Hour)
	require.NoError(t, repo.Advance(ctx, execution.ID, claimed.Version, 2, next, base))

	loaded, err := repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentStep)
	assert.WithinDuration(t, next, loaded.NextStepAt, time.Millisecond)
	assert.Nil(t, loaded.ClaimedUntil)

	at := next.Add(time.Minute)
	claimed, err = repo.Claim(ctx, loaded, at, at.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, execution.ID, claimed.Version, models.StepFailure{
		Error: "smtp timeout", RetryAt: base, At: at,
	}))

	loaded, err = repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentStep)
	assert.Equal(t, 1, loaded.Attempts)
	assert.Equal(t, "smtp timeout", loaded.LastError)
	assert.WithinDuration(t, next, loaded.NextStepAt, time.Millisecond, "next_step_at never regresses")
	assert.Equal(t, models.ExecutionStatusActive, loaded.Status)

	claimed, err = repo.Claim(ctx, loaded, at, at.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, execution.ID, claimed.Version, models.StepFailure{
		Error: "smtp timeout", RetryAt: at.Add(time.Hour), DeadLetter: true, At: at,
	}))

	loaded, err = repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, loaded.Status)
	assert.Equal(t, 2, loaded.Attempts)
	require.NotNil(t, loaded.CompletedAt)

	other := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "complete@example.com").ID, base)
	claimed, err = repo.Claim(ctx, other, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Complete(ctx, other.ID, claimed.Version, base.Add(time.Second)))
	assert.True(t, persistence.IsStale(repo.Complete(ctx, other.ID, claimed.Version, base.Add(time.Second))))

	loaded, err = repo.ByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
	assert.WithinDuration(t, base.Add(time.Second), *loaded.CompletedAt, time.Millisecond)
}

func testSetStatus(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.ExecutionRepository()

	workflow := SeedWorkflow(t, store, "status-wf")
	execution := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "status@example.com").ID, base)
	active := []models.ExecutionStatus{models.ExecutionStatusActive}
	paused := []models.ExecutionStatus{models.ExecutionStatusPaused}

	require.NoError(t, repo.SetStatus(ctx, execution.ID, active, models.ExecutionStatusPaused, base))
	assert.True(t, persistence.IsStale(repo.SetStatus(ctx, execution.ID, active, models.ExecutionStatusPaused, base)))

	resumeAt := base.Add(time.Hour)
	require.NoError(t, repo.SetStatus(ctx, execution.ID, paused, models.ExecutionStatusActive, resumeAt))

	loaded, err := repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusActive, loaded.Status)
	assert.WithinDuration(t, resumeAt, loaded.NextStepAt, time.Millisecond)

	require.NoError(t, repo.SetStatus(ctx, execution.ID, active, models.ExecutionStatusCancelled, resumeAt))
	loaded, err = repo.ByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)

	err = repo.SetStatus(ctx, "missing", active, models.ExecutionStatusPaused, base)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testStepLogs(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.StepLogRepository()

	workflow := SeedWorkflow(t, store, "logs-wf")
	execution := enroll(t, store, workflow.ID, SeedSubscriber(t, store, "logs@example.com").ID, base)
	step := workflow.Steps[0]

	sent := models.NewStepLog(execution.ID, step, models.StepLogStatusSent, nil, base)
	require.NoError(t, repo.Append(ctx, sent))
	assert.NotZero(t, sent.ID)

	failed := models.NewStepLog(execution.ID, nil, models.StepLogStatusFailed, assert.AnError, base)
	require.NoError(t, repo.Append(ctx, failed))
	assert.Greater(t, failed.ID, sent.ID)

	entries, err := repo.ByExecution(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].StepID)
	assert.Equal(t, step.Base().ID, *entries[0].StepID)
	assert.Equal(t, 1, *entries[0].StepOrder)
	assert.Equal(t, models.StepLogStatusSent, entries[0].Status)
	assert.Empty(t, entries[0].ErrorMessage)

	assert.Nil(t, entries[1].StepID)
	assert.Nil(t, entries[1].StepOrder)
	assert.Equal(t, models.StepLogStatusFailed, entries[1].Status)
	assert.Equal(t, assert.AnError.Error(), entries[1].ErrorMessage)

	none, err := repo.ByExecution(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
