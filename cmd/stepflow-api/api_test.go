package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/elena-cav/stepflow/pkg/cmd"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greeterWorkflow = `{
  "name": "greeter",
  "start_at": "Greet",
  "states": {
    "Greet": {"type": "Pass", "result": {"greeting": "hello"}, "result_path": "$.greeting", "next": "Done"},
    "Done": {"type": "Succeed"}
  }
}`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.json"), []byte(greeterWorkflow), 0o600))

	runtime, err := cmd.NewRuntime(context.Background(), log.Discard(), cmd.Config{
		ServiceName:   "stepflow-api-test",
		WorkflowsPath: dir,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = runtime.Close(context.Background())
	})

	return NewAPI(log.Discard(), runtime).App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Stepflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		require.NoError(t, resp.Body.Close())
	}
}

func TestAPI_StartLoadedWorkflow(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodPost, "/workflows/greeter/executions", bytes.NewBufferString(`{"name":"team"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, "succeeded", started["status"])
	assert.Equal(t, "greeter", started["workflow"])
}
