package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/elena-cav/stepflow/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := newCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(context.Background(), append([]string{"stepflow"}, args...))

	return out.String(), err
}

func TestValidate_BundledWorkflows(t *testing.T) {
	out, err := run(t, "validate", "--plugins-path", "", filepath.Join("..", "..", "workflows"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK   product-processor")
	assert.Contains(t, out, "OK   email-sender")
}

func TestValidate_ReportsProblems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")

	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
start_at: Start
states:
  Start:
    type: Invoke
    resource: no_such_action
    next: Missing
`), 0o600))

	out, err := run(t, "validate", "--plugins-path", "", path)
	require.ErrorIs(t, err, ErrInvalidWorkflows)
	assert.Contains(t, out, "FAIL broken")
	assert.Contains(t, out, "no_such_action")
	assert.Contains(t, out, "Missing")
}

func TestValidate_RequiresPath(t *testing.T) {
	_, err := run(t, "validate")
	require.ErrorIs(t, err, ErrNoPaths)
}

func TestConvert(t *testing.T) {
	out, err := run(t, "convert", "--format", "yaml", filepath.Join("..", "..", "workflows", "product-processor.json"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "name: product-processor"), out)

	_, err = run(t, "convert")
	require.ErrorIs(t, err, ErrSinglePath)
}

func TestDLQ_ListAndRedrive(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(queue.Config{}, nil)

	original := openQueue
	openQueue = func(context.Context, *cli.Command) (queue.Queue, error) {
		return nopCloser{q}, nil
	}

	t.Cleanup(func() {
		openQueue = original
	})

	id, err := q.Send(ctx, []byte(`{"token":"t"}`))
	require.NoError(t, err)

	messages, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.NoError(t, q.Nack(ctx, messages[0].Receipt, "resolution failed"))

	_, err = q.Receive(ctx, 1, 0)
	require.NoError(t, err)

	out, err := run(t, "dlq", "list", "--queue-url", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"`+id+`"`)
	assert.Contains(t, out, `"cause":"resolution failed"`)

	out, err = run(t, "dlq", "redrive", "--queue-url", "memory", id)
	require.NoError(t, err)
	assert.Equal(t, "redrove "+id+"\n", out)

	_, err = run(t, "dlq", "redrive", "--queue-url", "memory", id)
	require.ErrorIs(t, err, queue.ErrDeadLetterNotFound)

	_, err = run(t, "dlq", "redrive", "--queue-url", "memory")
	require.ErrorIs(t, err, ErrDeadLetterIDMissing)
}

type nopCloser struct {
	queue.Queue
}

func (nopCloser) Close() error {
	return nil
}
