package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules"
	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
	"github.com/iota-uz/cveteval/pkg/application"
	"github.com/iota-uz/cveteval/pkg/eventbus"
	"github.com/iota-uz/cveteval/pkg/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr    string
		migrate bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.pool == nil {
				return withCode(exitDB, errors.New("serve needs a database pool"))
			}
			if migrate {
				if err := persistence.Migrate(s.ctx, s.pool, s.conf.MigrationsTable); err != nil {
					return withCode(exitDBWrite, err)
				}
			}

			app := application.New(&application.ApplicationOptions{
				Pool:     s.pool,
				EventBus: eventbus.NewEventPublisher(s.logger),
				Logger:   s.logger,
			})
			if err := modules.Load(app, modules.BuiltInModules(s.conf)...); err != nil {
				return errors.Wrap(err, "load modules")
			}
			if addr == "" {
				addr = s.conf.SocketAddress
			}

			ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			s.logger.WithField("addr", addr).Info("listening")
			return server.NewHTTPServer(app).Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from PORT)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply schema migrations before serving")
	return cmd
}
