//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-labs/forge/pkg/artifact"
)

// startTestPostgres boots a disposable PostgreSQL container for the
// duration of one test, mirroring the pack's shared-testcontainer pattern
// but per-test since the store's own migration run needs a clean database.
func startTestPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("forge"),
		postgres.WithUsername("forge"),
		postgres.WithPassword("forge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStoreAppliesMigrationsAndRoundTripsARun(t *testing.T) {
	dsn := startTestPostgres(t)
	ctx := context.Background()

	p, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, BlobRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.CreateRun(ctx, artifact.RunRecord{
		RunID: "run-int-1", ProjectID: "proj-1", Status: artifact.RunStatusRunning, Prompt: "build a todo API",
	}))
	require.NoError(t, p.UpdateRunStatus(ctx, "run-int-1", artifact.RunStatusCompleted))

	code := artifact.GeneratedCode{
		Files:        []artifact.CodeFile{{Path: "app/main.py", Content: "app = FastAPI()"}},
		Dependencies: artifact.BaselineDependencies,
	}
	handle, err := p.StoreCodeBundle(ctx, "run-int-1", artifact.StageImplementer, code)
	require.NoError(t, err)

	loaded, err := p.LoadCodeBundle(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, code, loaded)

	require.NoError(t, p.CreateArtifactRecord(ctx, "run-int-1", artifact.ArtifactRecord{
		Stage:   artifact.StageImplementer,
		Content: artifact.BundleSummary{Handle: handle, FileCount: 1},
	}))
}

func TestPostgresUpdateRunStatusUnknownRunErrors(t *testing.T) {
	dsn := startTestPostgres(t)
	ctx := context.Background()

	p, err := OpenPostgres(ctx, PostgresConfig{DSN: dsn, BlobRoot: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Error(t, p.UpdateRunStatus(ctx, "does-not-exist", artifact.RunStatusFailed))
}
