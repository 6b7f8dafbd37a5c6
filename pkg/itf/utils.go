package itf

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/configuration"
)

func NewPool(dbOpts string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	config, err := pgxpool.ParseConfig(dbOpts)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnLifetime = time.Minute * 5
	config.MaxConnIdleTime = time.Second * 30

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return pool, nil
}

// NewDatabase creates a migrated database named after the test and drops it on cleanup.
// Outside CI the test is skipped when Postgres cannot be reached.
func NewDatabase(tb testing.TB, name string) *pgxpool.Pool {
	tb.Helper()
	conf, err := configuration.Load()
	if err != nil {
		tb.Fatal(err)
	}
	fail := func(err error) {
		if os.Getenv("CI") != "" {
			tb.Fatal(err)
		}
		tb.Skipf("postgres is not reachable; skipping integration test: %v", err)
	}

	dbName := sanitizeDBName(name)
	if err := CreateDB(conf, dbName); err != nil {
		fail(err)
	}
	pool, err := NewPool(DbOpts(conf, dbName))
	if err != nil {
		fail(err)
	}
	if err := persistence.Migrate(context.Background(), pool, conf.MigrationsTable); err != nil {
		pool.Close()
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		pool.Close()
		_ = DropDB(conf, dbName)
	})
	return pool
}

const (
	// PostgreSQL database name maximum length is 63 characters
	maxDBNameLength = 63
	// Reserve space for hash suffix when truncating (8 chars + underscore)
	hashSuffixLength = 9
)

// sanitizeDBName replaces special characters in database names with underscores
// and keeps the name within PostgreSQL's 63-character limit
func sanitizeDBName(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, "cveteval_"+name)
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if len(sanitized) <= maxDBNameLength {
		return sanitized
	}
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(name)))[:8]
	return sanitized[:maxDBNameLength-hashSuffixLength] + "_" + sum
}

func adminConn(conf *configuration.Configuration) (*pgx.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db := conf.Database
	return pgx.Connect(ctx, fmt.Sprintf(
		"host=%s port=%s user=%s dbname=postgres password=%s sslmode=disable",
		db.Host, db.Port, db.User, db.Password,
	))
}

func CreateDB(conf *configuration.Configuration, name string) error {
	conn, err := adminConn(conf)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	ident := pgx.Identifier{name}.Sanitize()
	if _, err := conn.Exec(context.Background(), "DROP DATABASE IF EXISTS "+ident); err != nil {
		return err
	}
	_, err = conn.Exec(context.Background(), "CREATE DATABASE "+ident)
	return err
}

func DropDB(conf *configuration.Configuration, name string) error {
	conn, err := adminConn(conf)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()
	_, err = conn.Exec(context.Background(), "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize())
	return err
}

func DbOpts(conf *configuration.Configuration, name string) string {
	db := conf.Database
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		db.Host, db.Port, db.User, name, db.Password,
	)
}
