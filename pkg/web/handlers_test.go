package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/email"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/dukex/nurture/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

type testApp struct {
	app   *fiber.App
	store persistence.Persistence
}

func setupTestApp(t *testing.T, secret string) *testApp {
	t.Helper()

	store := testutil.NewStore(t)
	logger := testutil.Logger()

	eng := engine.New(store,
		email.NewLogSender(logger),
		actions.NewDefaultDispatcher(logger, store.SubscriberRepository(), nil, nil),
		logger,
		engine.WithConfig(engine.Config{FromAddress: "hello@nurture.test"}),
	)

	app := fiber.New()
	web.NewAPIHandlers(eng, logger, secret).Register(app)

	return &testApp{app: app, store: store}
}

func setupMockApp(t *testing.T, eng *mocks.MockEngine) *fiber.App {
	t.Helper()

	app := fiber.New()
	web.NewAPIHandlers(eng, testutil.Logger(), "").Register(app)

	return app
}

func do(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return resp.StatusCode, out
}

func (a *testApp) workflow(t *testing.T, overrides ...func(*models.Workflow)) *models.Workflow {
	t.Helper()

	workflow := testutil.CreateTestWorkflow([]models.Step{
		testutil.Email(1, "Welcome {{first_name}}", "<p>Hi</p>"),
		testutil.Delay(2, 1, models.DelayUnitDays),
	}, overrides...)
	require.NoError(t, a.store.WorkflowRepository().Save(context.Background(), workflow))

	return workflow
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, secret)
	active := a.workflow(t, testutil.WithWorkflowName("welcome"))
	inactive := a.workflow(t, testutil.WithWorkflowName("retired"), testutil.WithWorkflowStatus(models.WorkflowStatusInactive))

	auth := map[string]string{web.SecretHeader: secret}

	tests := []struct {
		name       string
		body       any
		headers    map[string]string
		wantStatus int
		wantType   string
	}{
		{
			name:       "by workflow name and email",
			body:       web.TriggerRequest{WorkflowName: "welcome", SubscriberEmail: "lead@example.com"},
			headers:    auth,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing secret",
			body:       web.TriggerRequest{WorkflowID: active.ID, SubscriberEmail: "lead@example.com"},
			wantStatus: http.StatusUnauthorized,
			wantType:   "unauthorized",
		},
		{
			name:       "wrong secret",
			body:       web.TriggerRequest{WorkflowID: active.ID, SubscriberEmail: "lead@example.com"},
			headers:    map[string]string{web.SecretHeader: "guess"},
			wantStatus: http.StatusUnauthorized,
			wantType:   "unauthorized",
		},
		{
			name:       "no subscriber",
			body:       web.TriggerRequest{WorkflowID: active.ID},
			headers:    auth,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "no workflow",
			body:       web.TriggerRequest{SubscriberEmail: "lead@example.com"},
			headers:    auth,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "malformed body",
			body:       "{not json",
			headers:    auth,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{
			name:       "unknown workflow",
			body:       web.TriggerRequest{WorkflowID: "missing", SubscriberEmail: "lead@example.com"},
			headers:    auth,
			wantStatus: http.StatusNotFound,
			wantType:   "not_found",
		},
		{
			name:       "unknown subscriber id",
			body:       web.TriggerRequest{WorkflowID: active.ID, SubscriberID: "missing"},
			headers:    auth,
			wantStatus: http.StatusNotFound,
			wantType:   "not_found",
		},
		{
			name:       "inactive workflow",
			body:       web.TriggerRequest{WorkflowID: inactive.ID, SubscriberEmail: "lead@example.com"},
			headers:    auth,
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, a.app, http.MethodPost, "/trigger", tt.body, tt.headers)
			assert.Equal(t, tt.wantStatus, status, body)

			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, body["type"])
				assert.Equal(t, "/trigger", body["instance"])

				return
			}

			assert.Equal(t, true, body["success"])
			assert.NotEmpty(t, body["execution_id"])
			assert.Equal(t, active.ID, body["workflow_id"])
			assert.NotEmpty(t, body["subscriber_id"])
			assert.NotEmpty(t, body["next_step_at"])
		})
	}
}

func TestTrigger_StoreFailure(t *testing.T) {
	t.Parallel()

	eng := &mocks.MockEngine{}
	eng.On("Trigger", mock.Anything, mock.Anything).
		Return(nil, &engine.StoreError{Op: "Enroll", Err: persistence.ErrStoreUnavailable})

	status, body := do(t, setupMockApp(t, eng), http.MethodPost, "/trigger",
		web.TriggerRequest{WorkflowID: "wf", SubscriberEmail: "lead@example.com"}, nil)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", body["type"])
	assert.NotContains(t, body["detail"], "store unavailable")
}

func TestPoll(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, "")
	workflow := a.workflow(t)

	status, _ := do(t, a.app, http.MethodPost, "/trigger",
		web.TriggerRequest{WorkflowID: workflow.ID, SubscriberEmail: "lead@example.com"}, nil)
	require.Equal(t, http.StatusOK, status)

	status, body := do(t, a.app, http.MethodPost, "/poll", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 1, body["processed"], 0)
	assert.InDelta(t, 0, body["errors"], 0)

	status, body = do(t, a.app, http.MethodPost, "/poll", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 0, body["processed"], 0, "step 2 is not due yet")
}

func TestPoll_Aborted(t *testing.T) {
	t.Parallel()

	eng := &mocks.MockEngine{}
	eng.On("RunDue", mock.Anything).
		Return(engine.RunResult{}, &engine.StoreError{Op: "Due", Err: errors.New("conn reset")})

	status, body := do(t, setupMockApp(t, eng), http.MethodPost, "/poll", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", body["type"])
}

func TestExecutions(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, secret)
	workflow := a.workflow(t)
	auth := map[string]string{web.SecretHeader: secret}

	status, triggered := do(t, a.app, http.MethodPost, "/trigger",
		web.TriggerRequest{WorkflowID: workflow.ID, SubscriberEmail: "lead@example.com"}, auth)
	require.Equal(t, http.StatusOK, status)

	id, ok := triggered["execution_id"].(string)
	require.True(t, ok)

	status, _ = do(t, a.app, http.MethodGet, "/executions/"+id, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := do(t, a.app, http.MethodGet, "/executions/"+id, nil, auth)
	require.Equal(t, http.StatusOK, status)
	execution, ok := body["execution"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, id, execution["id"])

	status, body = do(t, a.app, http.MethodPost, "/executions/"+id+"/pause", nil, auth)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["status"])

	status, body = do(t, a.app, http.MethodPost, "/executions/"+id+"/pause", nil, auth)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["type"])

	status, body = do(t, a.app, http.MethodPost, "/executions/"+id+"/resume", nil, auth)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["status"])

	status, body = do(t, a.app, http.MethodPost, "/executions/"+id+"/cancel", nil, auth)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])

	status, _ = do(t, a.app, http.MethodPost, "/executions/"+id+"/resume", nil, auth)
	assert.Equal(t, http.StatusConflict, status)

	status, body = do(t, a.app, http.MethodGet, "/executions/missing", nil, auth)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["type"])
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	a := setupTestApp(t, secret)

	status, body := do(t, a.app, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status, "health is not guarded")
	assert.Equal(t, "healthy", body["status"])

	eng := &mocks.MockEngine{}
	eng.On("HealthCheck", mock.Anything).Return(errors.New("database is closed"))

	status, body = do(t, setupMockApp(t, eng), http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}
