package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/elena-cav/stepflow/pkg/callback"
	"github.com/elena-cav/stepflow/pkg/executor"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/memory"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/elena-cav/stepflow/pkg/registry"
	"github.com/elena-cav/stepflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, resource string, parameters map[string]any, input any) (map[string]any, error) {
	args := m.Called(ctx, resource, parameters, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) ResolveSuccess(ctx context.Context, token string, output map[string]any) (*models.Execution, error) {
	args := m.Called(ctx, token, output)

	return nil, args.Error(1)
}

func (m *mockResolver) Fail(ctx context.Context, token string, failure *models.StepFailure) (*models.Execution, error) {
	args := m.Called(ctx, token, failure)

	return nil, args.Error(1)
}

func envelopeBody(t *testing.T, token string) []byte {
	t.Helper()

	body, err := json.Marshal(models.CallbackEnvelope{
		Token:       token,
		ExecutionID: "exec-1",
		Workflow:    "forwarder",
		State:       "Forward",
		Resource:    "forward",
		Input:       map[string]any{"id": 1},
	})
	require.NoError(t, err)

	return body
}

func deadLetters(t *testing.T, q queue.Queue) []queue.DeadLetter {
	t.Helper()

	// Another receive moves nacked messages to the dead-letter set.
	messages, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, messages)

	letters, err := q.DeadLetters(context.Background(), 0)
	require.NoError(t, err)

	return letters
}

func TestConsumer_ResolvesAndAcks(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Config{}, clockwork.NewFakeClock())
	invoker := &mockInvoker{}
	resolver := &mockResolver{}

	invoker.On("Invoke", mock.Anything, "forward", map[string]any(nil), mock.Anything).
		Return(map[string]any{"statusCode": 200}, nil)
	resolver.On("ResolveSuccess", mock.Anything, "token-1", map[string]any{"statusCode": 200}).
		Return(nil, nil)

	_, err := q.Send(context.Background(), envelopeBody(t, "token-1"))
	require.NoError(t, err)

	consumer := queue.NewConsumer(q, invoker, resolver, queue.Config{}, log.Discard())

	received, err := consumer.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, received)

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)

	invoker.AssertExpectations(t)
	resolver.AssertExpectations(t)
}

func TestConsumer_StepFailureIsResolved(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Config{}, clockwork.NewFakeClock())
	invoker := &mockInvoker{}
	resolver := &mockResolver{}

	failure := models.NewStepFailure(502, "HTTP.Transport", "connection refused")

	invoker.On("Invoke", mock.Anything, "forward", mock.Anything, mock.Anything).Return(nil, failure)
	resolver.On("Fail", mock.Anything, "token-1", failure).Return(nil, nil)

	_, err := q.Send(context.Background(), envelopeBody(t, "token-1"))
	require.NoError(t, err)

	_, err = queue.NewConsumer(q, invoker, resolver, queue.Config{}, log.Discard()).Poll(context.Background())
	require.NoError(t, err)

	assert.Empty(t, deadLetters(t, q))
	resolver.AssertExpectations(t)
}

func TestConsumer_ResolutionErrorIsDeadLettered(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Config{}, clockwork.NewFakeClock())
	invoker := &mockInvoker{}
	resolver := &mockResolver{}

	invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]any{"statusCode": 200}, nil).Once()
	resolver.On("ResolveSuccess", mock.Anything, "token-1", mock.Anything).
		Return(nil, errors.New("database unavailable")).Once()

	_, err := q.Send(context.Background(), envelopeBody(t, "token-1"))
	require.NoError(t, err)

	_, err = queue.NewConsumer(q, invoker, resolver, queue.Config{}, log.Discard()).Poll(context.Background())
	require.NoError(t, err)

	letters := deadLetters(t, q)
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Cause, "database unavailable")

	invoker.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestConsumer_MalformedEnvelopeIsDeadLettered(t *testing.T) {
	q := queue.NewMemoryQueue(queue.Config{}, clockwork.NewFakeClock())
	invoker := &mockInvoker{}
	resolver := &mockResolver{}

	_, err := q.Send(context.Background(), []byte("not json"))
	require.NoError(t, err)

	_, err = q.Send(context.Background(), []byte(`{"execution_id":"exec-1"}`))
	require.NoError(t, err)

	_, err = queue.NewConsumer(q, invoker, resolver, queue.Config{}, log.Discard()).Poll(context.Background())
	require.NoError(t, err)

	letters := deadLetters(t, q)
	require.Len(t, letters, 2)

	for _, letter := range letters {
		assert.Contains(t, letter.Cause, "malformed envelope")
	}

	invoker.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConsumer_RejectedResolutionIsAcked(t *testing.T) {
	for name, rejection := range map[string]error{
		"unknown token": callback.ErrUnknownToken,
		"duplicate":     callback.ErrDuplicateResolution,
		"stale":         workflow.ErrStaleResume,
	} {
		t.Run(name, func(t *testing.T) {
			q := queue.NewMemoryQueue(queue.Config{}, clockwork.NewFakeClock())
			invoker := &mockInvoker{}
			resolver := &mockResolver{}

			invoker.On("Invoke", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(map[string]any{"statusCode": 200}, nil)
			resolver.On("ResolveSuccess", mock.Anything, "token-1", mock.Anything).Return(nil, rejection)

			_, err := q.Send(context.Background(), envelopeBody(t, "token-1"))
			require.NoError(t, err)

			_, err = queue.NewConsumer(q, invoker, resolver, queue.Config{}, log.Discard()).Poll(context.Background())
			require.NoError(t, err)

			assert.Empty(t, deadLetters(t, q))
		})
	}
}

type forwardFactory struct {
	statusCode int
}

func (forwardFactory) ID() string                { return "forward" }
func (forwardFactory) Name() string              { return "Forward" }
func (forwardFactory) Description() string       { return "test forwarder" }
func (forwardFactory) Schema() map[string]any    { return nil }
func (f forwardFactory) Create(context.Context, map[string]any) (protocol.Action, error) {
	return forwardAction(f), nil
}

type forwardAction struct {
	statusCode int
}

func (a forwardAction) Execute(_ context.Context, input any, _ *slog.Logger) (map[string]any, error) {
	if a.statusCode != 200 {
		return nil, models.NewStepFailure(a.statusCode, "HTTP.UnexpectedStatus", "upstream rejected the product")
	}

	return map[string]any{"statusCode": a.statusCode, "echo": input}, nil
}

func TestConsumer_DrivesCallbackWorkflow(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       models.ExecutionStatus
	}{
		{name: "forwarded", statusCode: 200, want: models.ExecutionStatusSucceeded},
		{name: "rejected", statusCode: 503, want: models.ExecutionStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			logger := log.Discard()
			clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))

			reg := registry.NewRegistry(logger)
			reg.RegisterAction(forwardFactory{statusCode: tt.statusCode})

			definitions := workflow.NewDefinitions(reg, logger)
			require.NoError(t, definitions.Register(&models.Workflow{
				Name:    "forwarder",
				StartAt: "Forward",
				States: map[string]*models.State{
					"Forward": {Type: models.StateTypeInvokeWithCallback, Resource: "forward", ResultPath: "$.forward", Next: "Check"},
					"Check": {
						Type:    models.StateTypeChoice,
						Choices: []models.ChoiceRule{{Variable: "$.forward.statusCode", NumberEquals: ptr(200.0), Next: "Done"}},
						Default: "Failed",
					},
					"Done":   {Type: models.StateTypeSucceed},
					"Failed": {Type: models.StateTypeFail, ErrorPath: "$.forward.error", CausePath: "$.forward.cause"},
				},
			}))

			q := queue.NewMemoryQueue(queue.Config{}, clock)
			invoker := executor.NewExecutor(reg, logger, nil)

			engine := workflow.NewEngine(definitions, memory.NewPersistence(), invoker,
				workflow.WithClock(clock),
				workflow.WithDispatcher(queue.NewDispatcher(q, logger)),
				workflow.WithLogger(logger),
			)

			exec, err := engine.Start(ctx, "forwarder", map[string]any{"productId": "p-1"})
			require.NoError(t, err)
			require.True(t, exec.IsSuspended())

			consumer := queue.NewConsumer(q, invoker, engine.Callbacks(), queue.Config{}, logger)

			received, err := consumer.Poll(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, received)

			stored, err := engine.Status(ctx, exec.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)

			forward := stored.Context["forward"].(map[string]any)
			assert.Equal(t, json.Number(jsonInt(tt.statusCode)), forward["statusCode"])

			stats, err := q.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, queue.Stats{}, stats)
		})
	}
}

func ptr[T any](v T) *T {
	return &v
}

func jsonInt(n int) string {
	data, _ := json.Marshal(n)

	return string(data)
}
