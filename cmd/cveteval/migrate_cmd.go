package main

import (
	"github.com/spf13/cobra"

	"github.com/iota-uz/cveteval/modules/evaluation/migration"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var (
		pair  historyPair
		apply bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Clone appraisals and final evaluations onto the matched entities of another history",
		Long:  "Without --apply the computed mapping is printed and nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			origin, dest, err := s.resolvePair(pair)
			if err != nil {
				return err
			}
			m, err := s.match(origin, dest)
			if err != nil {
				return err
			}
			mapping := migration.MappingFromMatches(m.MatchedEntities(), m.OrphanedEntities())
			if !apply {
				return writeJSONLine(cmd.OutOrStdout(), map[string]any{
					"origin_id":      origin,
					"destination_id": dest,
					"mapping":        mapping,
					"applied":        false,
				})
			}
			report, err := s.svc.Migrator.Migrate(s.ctx, origin, dest, mapping)
			if err != nil {
				return withCode(exitDBWrite, err)
			}
			return writeJSONLine(cmd.OutOrStdout(), report)
		},
	}
	pair.bind(cmd)
	cmd.Flags().BoolVar(&apply, "apply", false, "Write the cloned rows (default dry-run)")
	return cmd
}
