package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/memory"
	"github.com/elena-cav/stepflow/pkg/persistence/sqlite"
	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	tests := []struct {
		url      string
		provider string
		rest     string
	}{
		{url: "", provider: "memory"},
		{url: "memory", provider: "memory"},
		{url: "postgres://u:p@localhost/db", provider: "postgresql", rest: "u:p@localhost/db"},
		{url: "postgresql://localhost/db", provider: "postgresql", rest: "localhost/db"},
		{url: "sqlite:///var/lib/stepflow.db", provider: "sqlite", rest: "/var/lib/stepflow.db"},
		{url: "stepflow.db", provider: "sqlite", rest: "stepflow.db"},
		{url: "mongodb://localhost", provider: "mongodb", rest: "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			provider, rest := parsePersistenceProvider(tt.url)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestNewPersistence(t *testing.T) {
	ctx := context.Background()
	logger := log.Discard()

	store, err := NewPersistence(ctx, logger, "memory")
	require.NoError(t, err)
	assert.IsType(t, &memory.Persistence{}, store)

	store, err = NewPersistence(ctx, logger, "sqlite://"+filepath.Join(t.TempDir(), "stepflow.db"))
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Persistence{}, store)
	require.NoError(t, store.Close(ctx))

	_, err = NewPersistence(ctx, logger, "mongodb://localhost")
	require.Error(t, err)
}

func TestNewQueue(t *testing.T) {
	ctx := context.Background()

	q, err := NewQueue(ctx, log.Discard(), "", "", queue.Config{})
	require.NoError(t, err)
	assert.IsType(t, &queue.MemoryQueue{}, q)

	_, err = NewQueue(ctx, log.Discard(), "amqp://localhost", "", queue.Config{})
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", "test", log.Discard())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus("kafka", "", "test", log.Discard())
	require.Error(t, err)

	_, err = NewEventBus("rabbitmq", "", "test", log.Discard())
	require.Error(t, err)
}

func TestNewRegistry_RegistersNativeActions(t *testing.T) {
	bus, err := NewEventBus("gochannel", "", "test", log.Discard())
	require.NoError(t, err)

	defer bus.Close()

	reg, err := NewRegistry(log.Discard(), filepath.Join(t.TempDir(), "missing"), bus, SMTPConfig{})
	require.NoError(t, err)

	for _, id := range []string{"http_post", "email", "publish", "status", "log"} {
		assert.True(t, reg.HasAction(id), id)
	}
}

const passWorkflow = `
name: hello
start_at: Greet
states:
  Greet:
    type: Pass
    result:
      greeting: hello
    result_path: $.greeting
    next: Done
  Done:
    type: Succeed
`

func TestNewRuntime(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.yaml"), []byte(passWorkflow), 0o600))

	runtime, err := NewRuntime(ctx, log.Discard(), Config{
		ServiceName:   "stepflow-test",
		DatabaseURL:   "memory",
		EventBus:      "gochannel",
		QueueURL:      "memory",
		WorkflowsPath: dir,
	})
	require.NoError(t, err)

	defer func() {
		require.NoError(t, runtime.Close(ctx))
	}()

	_, ok := runtime.Definitions.Get("hello")
	require.True(t, ok)

	exec, err := runtime.Engine.Start(ctx, "hello", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, exec.Status)
}

func TestNewRuntime_InvalidWorkflowFails(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nstates: {}\n"), 0o600))

	_, err := NewRuntime(context.Background(), log.Discard(), Config{WorkflowsPath: dir})
	require.Error(t, err)
}
