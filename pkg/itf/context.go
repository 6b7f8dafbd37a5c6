package itf

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/cveteval/modules/evaluation/domain/entities"
	"github.com/iota-uz/cveteval/modules/evaluation/importers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/modules/evaluation/services"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/dataimport"
	"github.com/iota-uz/cveteval/pkg/eventbus"
)

// TestContext provides a fluent API for building test environments
type TestContext struct {
	ctx      context.Context
	users    []string
	postgres bool
	dbName   string
}

func NewTestContext() *TestContext {
	return &TestContext{ctx: context.Background()}
}

// WithUsers registers users by email before the test starts.
func (tc *TestContext) WithUsers(emails ...string) *TestContext {
	tc.users = append(tc.users, emails...)
	return tc
}

// WithPostgres backs the environment with a fresh database instead of the
// in-memory store. The test is skipped when Postgres is not reachable.
func (tc *TestContext) WithPostgres() *TestContext {
	tc.postgres = true
	return tc
}

func (tc *TestContext) WithDBName(name string) *TestContext {
	tc.dbName = name
	return tc
}

func (tc *TestContext) Build(tb testing.TB) *TestEnvironment {
	tb.Helper()

	var store persistence.Store
	var pool *pgxpool.Pool
	if tc.postgres {
		if tc.dbName == "" {
			tc.dbName = tb.Name()
		}
		pool = NewDatabase(tb, tc.dbName)
		store = persistence.NewPgStore(pool)
	} else {
		store = persistence.NewMemoryStore()
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	bus := eventbus.NewEventPublisher(logger)
	rec := &eventbus.Recorder{}
	bus.Subscribe(eventbus.Wildcard, rec.Handle)

	repos := persistence.NewRepositories(store)
	env := &TestEnvironment{
		Pool:      pool,
		Store:     store,
		Repos:     repos,
		Bus:       bus,
		Events:    rec,
		Logger:    logger,
		Histories: services.NewHistoryService(repos, bus),
		Users:     services.NewUserService(repos),
	}
	env.Ctx = composables.WithLogger(tc.ctx, logrus.NewEntry(logger))
	if pool != nil {
		env.Ctx = composables.WithPool(env.Ctx, pool)
	}
	for _, email := range tc.users {
		if _, err := env.Users.Ensure(env.Ctx, email, "", ""); err != nil {
			tb.Fatal(err)
		}
	}
	return env
}

// TestEnvironment contains all test dependencies
type TestEnvironment struct {
	Ctx       context.Context
	Pool      *pgxpool.Pool
	Store     persistence.Store
	Repos     *persistence.Repositories
	Bus       eventbus.EventBus
	Events    *eventbus.Recorder
	Logger    *logrus.Logger
	Histories *services.HistoryService
	Users     *services.UserService
}

func (te *TestEnvironment) Deps() importers.Deps {
	return importers.Deps{
		Repos:     te.Repos,
		Users:     te.Users,
		Cleaner:   te.Histories,
		Publisher: te.Bus,
		Location:  time.UTC,
	}
}

// NewHistory creates a history and fails the test on error.
func (te *TestEnvironment) NewHistory(tb testing.TB, idnumber string) entities.History {
	tb.Helper()
	h, err := te.Histories.Create(te.Ctx, idnumber, "")
	if err != nil {
		tb.Fatal(err)
	}
	return h
}

// Import runs one file of the given kind under historyID.
func (te *TestEnvironment) Import(tb testing.TB, kind importers.Kind, path string, historyID int64) *dataimport.Result {
	tb.Helper()
	imp, err := importers.New(kind, te.Deps())
	if err != nil {
		tb.Fatal(err)
	}
	p := dataimport.NewProcessor(
		dataimport.NewCSVSource(path, importers.DefaultDelimiter(kind), ""),
		imp,
		dataimport.WithHistory(historyID),
		dataimport.WithTransactor(te.Store),
		dataimport.WithEventBus(te.Bus),
		dataimport.WithLogger(te.Logger),
	)
	return p.Import(te.Ctx, dataimport.ImportOptions{})
}

// MustImport imports files in order and fails on the first failed run.
func (te *TestEnvironment) MustImport(tb testing.TB, historyID int64, files map[importers.Kind]string) {
	tb.Helper()
	kinds := make([]importers.Kind, 0, len(files))
	for k := range files {
		kinds = append(kinds, k)
	}
	for _, kind := range importers.Order(kinds) {
		res := te.Import(tb, kind, files[kind], historyID)
		if res.Err != nil {
			tb.Fatalf("import %s from %s: %v %v", kind, files[kind], res.Err, res.Violations)
		}
	}
}
