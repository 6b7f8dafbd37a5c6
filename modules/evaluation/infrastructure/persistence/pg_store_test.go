package persistence

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/cveteval/pkg/configuration"
)

func newPgTestPool(tb testing.TB) *pgxpool.Pool {
	tb.Helper()
	ctx := context.Background()
	isCI := os.Getenv("CI") != ""

	conf, err := configuration.Load()
	require.NoError(tb, err)
	db := conf.Database

	adminDSN := "postgres://" + db.User + ":" + db.Password + "@" + db.Host + ":" + db.Port + "/postgres?sslmode=disable"
	adminConn, err := pgx.Connect(ctx, adminDSN)
	if err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("postgres is not reachable; skipping integration test")
	}
	tb.Cleanup(func() { _ = adminConn.Close(ctx) })

	dbName := "cveteval_" + strings.ToLower(strings.ReplaceAll(tb.Name(), "/", "_"))
	dbName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, dbName)

	_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		if isCI {
			require.NoError(tb, err)
		}
		tb.Skip("failed to create test database; skipping integration test")
	}

	pool, err := pgxpool.New(ctx, "postgres://"+db.User+":"+db.Password+"@"+db.Host+":"+db.Port+"/"+dbName+"?sslmode=disable")
	require.NoError(tb, err)
	require.NoError(tb, Migrate(ctx, pool, conf.MigrationsTable))

	tb.Cleanup(func() {
		pool.Close()
		_, _ = adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+dbName)
	})
	return pool
}

func TestPgStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewPgStore(newPgTestPool(t))
	})
}

func TestMigrate_IsIdempotent(t *testing.T) {
	pool := newPgTestPool(t)
	conf, err := configuration.Load()
	require.NoError(t, err)

	require.NoError(t, Migrate(context.Background(), pool, conf.MigrationsTable))
	v, err := MigrationVersion(context.Background(), pool, conf.MigrationsTable)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}
