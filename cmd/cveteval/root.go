package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation"
	"github.com/iota-uz/cveteval/modules/evaluation/handlers"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/composables"
	"github.com/iota-uz/cveteval/pkg/configuration"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/tracing"
)

// cli holds what commands need to reach the outside world. Tests swap the
// store opener for an in-memory one.
type cli struct {
	out        io.Writer
	loadConfig func() (*configuration.Configuration, error)
	openStore  func(ctx context.Context, conf *configuration.Configuration) (persistence.Store, *pgxpool.Pool, error)
}

func defaultCLI() *cli {
	return &cli{
		out: os.Stdout,
		loadConfig: func() (*configuration.Configuration, error) {
			return configuration.Load(".env", ".env.local")
		},
		openStore: openPgStore,
	}
}

func openPgStore(ctx context.Context, conf *configuration.Configuration) (persistence.Store, *pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		return nil, nil, withCode(exitDB, errors.Wrap(err, "db connect failed"))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, withCode(exitDB, errors.Wrap(err, "db ping failed"))
	}
	return persistence.NewPgStore(pool), pool, nil
}

// session is one command run: configuration, store and services.
type session struct {
	ctx    context.Context
	conf   *configuration.Configuration
	logger *logrus.Logger
	pool   *pgxpool.Pool
	bus    eventbus.EventBus
	events *eventbus.Recorder
	svc    *evaluation.Services
	close  func()
}

func (c *cli) session(cmd *cobra.Command) (*session, error) {
	conf, err := c.loadConfig()
	if err != nil {
		return nil, withCode(exitUsage, errors.Wrap(err, "configuration"))
	}
	logger := conf.Logger()
	logger.SetOutput(cmd.ErrOrStderr())
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		if parsed, perr := logrus.ParseLevel(lvl); perr == nil {
			logger.SetLevel(parsed)
		}
	}
	shutdown := tracing.Setup(cmd.Context(), logger, conf.OpenTelemetry)

	store, pool, err := c.openStore(cmd.Context(), conf)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	bus := eventbus.NewEventPublisher(logger)
	rec := &eventbus.Recorder{}
	bus.Subscribe(eventbus.Wildcard, rec.Handle)
	handlers.RegisterEventHandlers(bus, logger)

	ctx := composables.WithLogger(cmd.Context(), logrus.NewEntry(logger))
	if pool != nil {
		ctx = composables.WithPool(ctx, pool)
	}
	return &session{
		ctx:    ctx,
		conf:   conf,
		logger: logger,
		pool:   pool,
		bus:    bus,
		events: rec,
		svc:    evaluation.NewServices(store, bus, conf, nil),
		close: func() {
			if pool != nil {
				pool.Close()
			}
			_ = shutdown(context.Background())
		},
	}, nil
}

// resolveHistory accepts a numeric id or an idnumber; empty means the baseline.
func (s *session) resolveHistory(ref string) (int64, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if _, err := s.svc.Histories.Get(s.ctx, id); err != nil {
			return 0, withCode(exitUsage, err)
		}
		return id, nil
	}
	h, err := s.svc.Histories.GetByIDNumber(s.ctx, ref)
	if err != nil {
		return 0, withCode(exitUsage, err)
	}
	return h.ID, nil
}

func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cveteval",
		Short:         "Clinical evaluation import, history and migration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
	cmd.SetOut(c.out)

	cmd.AddCommand(newImportCmd(c))
	cmd.AddCommand(newValidateCmd(c))
	cmd.AddCommand(newImportAllCmd(c))
	cmd.AddCommand(newHistoryCmd(c))
	cmd.AddCommand(newCleanupCmd(c))
	cmd.AddCommand(newExportCmd(c))
	cmd.AddCommand(newMatchCmd(c))
	cmd.AddCommand(newMigrateCmd(c))
	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newDBCmd(c))
	cmd.AddCommand(newUsersCmd(c))
	cmd.AddCommand(newDevCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd(defaultCLI()).Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
