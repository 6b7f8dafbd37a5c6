package main

import (
	"github.com/go-faster/errors"
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/infrastructure/persistence"
)

func newDBCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database schema maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.pool == nil {
				return withCode(exitDB, errors.New("no database pool"))
			}
			if err := persistence.Migrate(s.ctx, s.pool, s.conf.MigrationsTable); err != nil {
				return withCode(exitDBWrite, err)
			}
			version, err := persistence.MigrationVersion(s.ctx, s.pool, s.conf.MigrationsTable)
			if err != nil {
				return withCode(exitDB, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"version": version})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if s.pool == nil {
				return withCode(exitDB, errors.New("no database pool"))
			}
			version, err := persistence.MigrationVersion(s.ctx, s.pool, s.conf.MigrationsTable)
			if err != nil {
				return withCode(exitDB, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"version": version})
		},
	})
	return cmd
}
