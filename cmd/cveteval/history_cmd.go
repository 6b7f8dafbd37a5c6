package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage import generations",
	}
	cmd.AddCommand(newHistoryListCmd(c))
	cmd.AddCommand(newHistoryCreateCmd(c))
	cmd.AddCommand(newHistoryDeleteCmd(c))
	cmd.AddCommand(newHistoryActivateCmd(c))
	cmd.AddCommand(newCleanupCmd(c))
	return cmd
}

func newHistoryListCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List histories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			list, err := s.svc.Histories.List(s.ctx)
			if err != nil {
				return withCode(exitDB, err)
			}
			if asJSON {
				return writeJSONLine(cmd.OutOrStdout(), list)
			}
			rows := [][]string{{"id", "idnumber", "active", "created", "comments"}}
			for _, h := range list {
				rows = append(rows, []string{
					strconv.FormatInt(h.ID, 10),
					h.IDNumber,
					strconv.FormatBool(h.IsActive),
					h.TimeCreated.Format(time.DateTime),
					h.Comments,
				})
			}
			return writeTable(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newHistoryCreateCmd(c *cli) *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "create [idnumber]",
		Short: "Create a history; without idnumber a time based one is generated",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			idnumber := ""
			if len(args) == 1 {
				idnumber = args[0]
			}
			h, err := s.svc.Histories.Create(s.ctx, idnumber, comments)
			if err != nil {
				return withCode(serviceExit(err, exitDBWrite), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), h)
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "Free text stored with the history")
	return cmd
}

func newHistoryDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <history>",
		Short: "Delete a history and every row imported under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := s.resolveHistory(args[0])
			if err != nil {
				return err
			}
			if err := s.svc.Histories.Delete(s.ctx, id); err != nil {
				return withCode(serviceExit(err, exitDBWrite), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"deleted": id})
		},
	}
}

func newHistoryActivateCmd(c *cli) *cobra.Command {
	var inactive bool
	cmd := &cobra.Command{
		Use:   "activate <history>",
		Short: "Mark a history active (or inactive with --off)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := s.resolveHistory(args[0])
			if err != nil {
				return err
			}
			if err := s.svc.Histories.SetActive(s.ctx, id, !inactive); err != nil {
				return withCode(serviceExit(err, exitDBWrite), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"history": id, "active": !inactive})
		},
	}
	cmd.Flags().BoolVar(&inactive, "off", false, "Deactivate instead")
	return cmd
}

func newCleanupCmd(c *cli) *cobra.Command {
	var tables []string
	cmd := &cobra.Command{
		Use:   "cleanup <history>",
		Short: "Delete the rows imported under a history, keeping the history itself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			id, err := s.resolveHistory(args[0])
			if err != nil {
				return err
			}
			n, err := s.svc.Histories.Cleanup(s.ctx, id, tables...)
			if err != nil {
				return withCode(serviceExit(err, exitDBWrite), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), map[string]any{"history": id, "deleted": n})
		},
	}
	cmd.Flags().StringSliceVar(&tables, "table", nil, "Restrict to these tables (repeatable)")
	return cmd
}
