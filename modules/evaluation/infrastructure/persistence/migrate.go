package persistence

import (
	"context"
	"embed"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed schema/*.sql
var MigrationFiles embed.FS

// Migrate applies the embedded schema migrations, recording versions in table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(MigrationFiles)
	if table != "" {
		goose.SetTableName(table)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	if err := goose.UpContext(ctx, db, "schema"); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// MigrationVersion returns the latest applied schema version.
func MigrationVersion(ctx context.Context, pool *pgxpool.Pool, table string) (int64, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if table != "" {
		goose.SetTableName(table)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, errors.Wrap(err, "goose dialect")
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, errors.Wrap(err, "read migration version")
	}
	return v, nil
}
