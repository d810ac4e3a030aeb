package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	stepflowlog "github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/elena-cav/stepflow/pkg/persistence/persistencetest"
	"github.com/elena-cav/stepflow/pkg/persistence/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPersistence(t *testing.T) persistence.Persistence {
	t.Helper()

	ctx := context.Background()

	p, err := sqlite.NewPersistence(ctx, stepflowlog.Discard(), ":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, p.Close(ctx))
	})

	return p
}

func TestPersistence(t *testing.T) {
	persistencetest.Run(t, newPersistence)
}

func TestNewPersistence_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stepflow.db")

	first, err := sqlite.NewPersistence(ctx, stepflowlog.Discard(), path)
	require.NoError(t, err)

	exec := persistencetest.NewExecution("product-processor")
	require.NoError(t, first.CreateExecution(ctx, exec))
	require.NoError(t, first.Close(ctx))

	second, err := sqlite.NewPersistence(ctx, stepflowlog.Discard(), path)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, second.Close(ctx))
	}()

	got, err := second.ExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.WorkflowName, got.WorkflowName)
}
