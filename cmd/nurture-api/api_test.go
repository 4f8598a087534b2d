package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/dukex/nurture/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T, secret string) (*fiber.App, *mocks.MockEngine) {
	t.Helper()

	eng := &mocks.MockEngine{}

	return NewAPI(testutil.Logger(), eng, secret).App(), eng
}

func get(t *testing.T, app *fiber.App, method, path string, headers map[string]string) (int, string) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t, "")

	status, body := get(t, app, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "nurture API", body)
}

func TestAPI_Liveness(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t, "secret")

	status, _ := get(t, app, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_PollIsGuarded(t *testing.T) {
	t.Parallel()

	app, eng := setupTestApp(t, "secret")
	eng.On("RunDue", mock.Anything).Return(engine.RunResult{Processed: 3, Errors: 1}, nil)

	status, _ := get(t, app, http.MethodPost, "/poll", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	eng.AssertNotCalled(t, "RunDue", mock.Anything)

	status, body := get(t, app, http.MethodPost, "/poll", map[string]string{web.SecretHeader: "secret"})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"processed":3,"errors":1,"skipped":0}`, body)
}
