package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/elena-cav/stepflow/pkg/executor"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/mocks"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/memory"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/registry"
	"github.com/elena-cav/stepflow/pkg/web"
	"github.com/elena-cav/stepflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type forwardFactory struct{}

func (forwardFactory) ID() string             { return "forward" }
func (forwardFactory) Name() string           { return "Forward" }
func (forwardFactory) Description() string    { return "test forwarder" }
func (forwardFactory) Schema() map[string]any { return nil }
func (forwardFactory) Create(context.Context, map[string]any) (protocol.Action, error) {
	return forwardAction{}, nil
}

type forwardAction struct{}

func (forwardAction) Execute(context.Context, any, *slog.Logger) (map[string]any, error) {
	return map[string]any{"statusCode": http.StatusOK}, nil
}

type testServer struct {
	app    *fiber.App
	engine *workflow.Engine
	queue  *queue.MemoryQueue
	clock  *clockwork.FakeClock
}

func greeterWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:    "greeter",
		StartAt: "Greet",
		InputSchema: map[string]any{
			"type":       "object",
			"required":   []any{"name"},
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
		},
		States: map[string]*models.State{
			"Greet": {Type: models.StateTypePass, Result: map[string]any{"greeting": "hello"}, ResultPath: "$.pass", Next: "Done"},
			"Done":  {Type: models.StateTypeSucceed},
		},
	}
}

func forwarderWorkflow() *models.Workflow {
	ok := 200.0

	return &models.Workflow{
		Name:           "forwarder",
		StartAt:        "Forward",
		TimeoutSeconds: 60,
		States: map[string]*models.State{
			"Forward": {Type: models.StateTypeInvokeWithCallback, Resource: "forward", ResultPath: "$.forward", Next: "Check"},
			"Check": {
				Type:    models.StateTypeChoice,
				Choices: []models.ChoiceRule{{Variable: "$.forward.statusCode", NumberEquals: &ok, Next: "Done"}},
				Default: "Failed",
			},
			"Done":   {Type: models.StateTypeSucceed},
			"Failed": {Type: models.StateTypeFail, ErrorPath: "$.forward.error", CausePath: "$.forward.cause"},
		},
	}
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := log.Discard()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(forwardFactory{})

	definitions := workflow.NewDefinitions(reg, logger)
	require.NoError(t, definitions.Register(greeterWorkflow()))
	require.NoError(t, definitions.Register(forwarderWorkflow()))

	store := memory.NewPersistence()
	q := queue.NewMemoryQueue(queue.Config{}, clock)

	engine := workflow.NewEngine(definitions, store, executor.NewExecutor(reg, logger, nil),
		workflow.WithClock(clock),
		workflow.WithDispatcher(queue.NewDispatcher(q, logger)),
		workflow.WithLogger(logger),
	)

	handlers := web.NewAPIHandlers(engine, engine.Callbacks(), definitions, q, store,
		validator.New(validator.WithRequiredStructEnabled()), logger)

	return &testServer{app: web.NewApp(handlers), engine: engine, queue: q, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}

	return resp.StatusCode, decoded
}

func (s *testServer) raw(t *testing.T, path string) string {
	t.Helper()

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	return string(data)
}

func (s *testServer) startForwarder(t *testing.T) (string, string) {
	t.Helper()

	status, body := s.do(t, http.MethodPost, "/workflows/forwarder/executions", map[string]any{"productId": "p-1"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["suspended"])

	messages, err := s.queue.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	var envelope models.CallbackEnvelope
	require.NoError(t, json.Unmarshal(messages[0].Body, &envelope))

	return body["execution_id"].(string), envelope.Token
}

func TestAPIHandlers_StartExecution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "succeeds",
			path:           "/workflows/greeter/executions",
			body:           map[string]any{"name": "team"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "unknown workflow",
			path:           "/workflows/missing/executions",
			body:           map[string]any{},
			expectedStatus: http.StatusNotFound,
			expectedType:   "workflow_not_found",
		},
		{
			name:           "invalid JSON",
			path:           "/workflows/greeter/executions",
			body:           "{not-json",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "input is not an object",
			path:           "/workflows/greeter/executions",
			body:           "[1, 2]",
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "input schema violation",
			path:           "/workflows/greeter/executions",
			body:           map[string]any{"name": 7},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := setupTestServer(t)

			status, body := server.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, status)

			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, body["type"])

				return
			}

			assert.Equal(t, "greeter", body["workflow"])
			assert.Equal(t, string(models.ExecutionStatusSucceeded), body["status"])
			assert.Equal(t, "Done", body["current_state"])
			assert.Equal(t, false, body["suspended"])
			assert.NotEmpty(t, body["execution_id"])
		})
	}
}

func TestAPIHandlers_StartExecution_ListsSchemaProblems(t *testing.T) {
	server := setupTestServer(t)

	status, body := server.do(t, http.MethodPost, "/workflows/greeter/executions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["problems"])

	status, body = server.do(t, http.MethodGet, "/executions", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["executions"], "rejected input creates no execution")
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	server := setupTestServer(t)

	_, started := server.do(t, http.MethodPost, "/workflows/greeter/executions", map[string]any{"name": "team"})
	id := started["execution_id"].(string)

	status, body := server.do(t, http.MethodGet, "/executions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, map[string]any{"greeting": "hello"}, body["context"].(map[string]any)["pass"])
	assert.Equal(t, map[string]any{"name": "team"}, body["input"])
	assert.Len(t, body["history"], 2)

	status, body = server.do(t, http.MethodGet, "/executions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "execution_not_found", body["type"])
}

func TestAPIHandlers_ListExecutions(t *testing.T) {
	server := setupTestServer(t)

	server.do(t, http.MethodPost, "/workflows/greeter/executions", map[string]any{"name": "a"})
	server.do(t, http.MethodPost, "/workflows/greeter/executions", map[string]any{"name": "b"})
	server.startForwarder(t)

	status, body := server.do(t, http.MethodGet, "/executions?workflow=greeter", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["executions"], 2)

	status, body = server.do(t, http.MethodGet, "/executions?status=running", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["executions"], 1)

	status, body = server.do(t, http.MethodGet, "/executions?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["executions"], 1)
	assert.Equal(t, map[string]any{"limit": 1.0, "offset": 1.0}, body["pagination"])

	status, _ = server.do(t, http.MethodGet, "/executions?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = server.do(t, http.MethodGet, "/executions?limit=many", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ExecutionsNeverRenderCallbackToken(t *testing.T) {
	server := setupTestServer(t)

	executionID, token := server.startForwarder(t)
	require.NotEmpty(t, token)

	for _, path := range []string{"/executions/" + executionID, "/executions", "/executions?status=running"} {
		body := server.raw(t, path)

		assert.NotContains(t, body, token, path)
		assert.NotContains(t, body, `"token"`, path)
		assert.Contains(t, body, `"kind":"callback"`, path)
	}
}

func TestAPIHandlers_CallbackSuccess(t *testing.T) {
	server := setupTestServer(t)
	executionID, token := server.startForwarder(t)

	status, body := server.do(t, http.MethodPost, "/callbacks/success", web.CallbackSuccessRequest{
		Token:  token,
		Output: map[string]any{"statusCode": 200},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, executionID, body["execution_id"])
	assert.Equal(t, string(models.ExecutionStatusSucceeded), body["status"])
	assert.Equal(t, false, body["suspended"])

	status, body = server.do(t, http.MethodPost, "/callbacks/success", web.CallbackSuccessRequest{Token: token})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_resolution", body["type"])
}

func TestAPIHandlers_CallbackFailure(t *testing.T) {
	server := setupTestServer(t)
	executionID, token := server.startForwarder(t)

	status, body := server.do(t, http.MethodPost, "/callbacks/failure", web.CallbackFailureRequest{
		Token: token,
		Error: "Upstream.Rejected",
		Cause: map[string]any{"statusCode": 502, "message": "bad gateway"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, string(models.ExecutionStatusFailed), body["status"])

	_, exec := server.do(t, http.MethodGet, "/executions/"+executionID, nil)
	assert.Equal(t, "Upstream.Rejected", exec["error"])

	forward := exec["context"].(map[string]any)["forward"].(map[string]any)
	assert.Equal(t, 502.0, forward["statusCode"])
	assert.Equal(t, "bad gateway", forward["message"])
}

func TestAPIHandlers_CallbackRejections(t *testing.T) {
	server := setupTestServer(t)

	status, body := server.do(t, http.MethodPost, "/callbacks/success", web.CallbackSuccessRequest{Token: "never-issued"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_token", body["type"])

	status, body = server.do(t, http.MethodPost, "/callbacks/success", map[string]any{"output": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["detail"], "Token")

	status, _ = server.do(t, http.MethodPost, "/callbacks/failure", map[string]any{"token": "t"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = server.do(t, http.MethodPost, "/callbacks/success", "{broken")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_CallbackAfterDeadline(t *testing.T) {
	server := setupTestServer(t)
	executionID, token := server.startForwarder(t)

	server.clock.Advance(61 * time.Second)

	status, body := server.do(t, http.MethodPost, "/callbacks/success", web.CallbackSuccessRequest{Token: token})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "execution_timed_out", body["type"])

	_, exec := server.do(t, http.MethodGet, "/executions/"+executionID, nil)
	assert.Equal(t, string(models.ExecutionStatusTimedOut), exec["status"])
}

func TestAPIHandlers_CallbackAfterSweep(t *testing.T) {
	server := setupTestServer(t)
	executionID, token := server.startForwarder(t)

	server.clock.Advance(61 * time.Second)

	expired, err := server.engine.ExpireOverdue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	status, body := server.do(t, http.MethodPost, "/callbacks/failure", web.CallbackFailureRequest{Token: token, Error: "Late"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_token", body["type"])

	_, exec := server.do(t, http.MethodGet, "/executions/"+executionID, nil)
	assert.Equal(t, string(models.ExecutionStatusTimedOut), exec["status"])
}

func TestAPIHandlers_Workflows(t *testing.T) {
	server := setupTestServer(t)

	status, body := server.do(t, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, status)

	workflows := body["workflows"].([]any)
	require.Len(t, workflows, 2)
	assert.Equal(t, "forwarder", workflows[0].(map[string]any)["name"])
	assert.Equal(t, "greeter", workflows[1].(map[string]any)["name"])

	status, body = server.do(t, http.MethodGet, "/workflows/forwarder", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Forward", body["start_at"])
	assert.Contains(t, body["states"], "Check")

	status, _ = server.do(t, http.MethodGet, "/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_DeadLetters(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	id, err := server.queue.Send(ctx, []byte(`{"token":"t"}`))
	require.NoError(t, err)

	messages, err := server.queue.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NoError(t, server.queue.Nack(ctx, messages[0].Receipt, "resolution failed"))

	_, err = server.queue.Receive(ctx, 10, 0)
	require.NoError(t, err)

	status, body := server.do(t, http.MethodGet, "/dead-letters", nil)
	require.Equal(t, http.StatusOK, status)

	letters := body["dead_letters"].([]any)
	require.Len(t, letters, 1)

	letter := letters[0].(map[string]any)
	assert.Equal(t, id, letter["id"])
	assert.Equal(t, "resolution failed", letter["cause"])
	assert.Equal(t, map[string]any{"token": "t"}, letter["body"])
	assert.Equal(t, map[string]any{"visible": 0.0, "not_visible": 0.0, "dead_letters": 1.0}, body["stats"])

	status, _ = server.do(t, http.MethodPost, "/dead-letters/"+id+"/redrive", nil)
	assert.Equal(t, http.StatusAccepted, status)

	status, body = server.do(t, http.MethodPost, "/dead-letters/"+id+"/redrive", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "dead_letter_not_found", body["type"])

	status, _ = server.do(t, http.MethodGet, "/dead-letters?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_ForwardStub(t *testing.T) {
	server := setupTestServer(t)

	status, body := server.do(t, http.MethodPost, "/atg", map[string]any{"insuranceProductId": 58305195})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"statusCode": 200.0}, body)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	server := setupTestServer(t)

	status, body := server.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	status, _ = server.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPIHandlers_HealthCheck_StoreDown(t *testing.T) {
	store := &mocks.MockPersistence{}
	store.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	logger := log.Discard()
	q := queue.NewMemoryQueue(queue.Config{}, nil)
	definitions := workflow.NewDefinitions(registry.NewRegistry(logger), logger)
	engine := workflow.NewEngine(definitions, store, executor.NewExecutor(registry.NewRegistry(logger), logger, nil))

	app := web.NewApp(web.NewAPIHandlers(engine, engine.Callbacks(), definitions, q, store, validator.New(), logger))

	for path, expected := range map[string]int{
		"/health": http.StatusServiceUnavailable,
		"/readyz": http.StatusServiceUnavailable,
		"/livez":  http.StatusOK,
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, expected, resp.StatusCode, path)
		require.NoError(t, resp.Body.Close())
	}

	store.AssertExpectations(t)
}
