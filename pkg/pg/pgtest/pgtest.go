// Package pgtest starts a throwaway Postgres for integration tests.
//
// Tests using it are skipped unless PG_INTEGRATION=1, since they need Docker.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dmitrymomot/pixelmint/migrations"
	"github.com/dmitrymomot/pixelmint/pkg/pg"
)

const image = "postgres:16-alpine"

// Start runs a migrated Postgres container and returns a pool to it. The
// container is removed when the test ends.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("PG_INTEGRATION") != "1" {
		t.Skip("set PG_INTEGRATION=1 to run Postgres integration tests")
	}

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("pixelmint"),
		postgres.WithUsername("pixelmint"),
		postgres.WithPassword("pixelmint"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := pg.Config{
		ConnectionString: dsn,
		MaxOpenConns:     4,
		RetryAttempts:    5,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, nil))
	return pool
}
