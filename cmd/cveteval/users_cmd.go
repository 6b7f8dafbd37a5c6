package main

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newUsersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the users that situations and groupings refer to by email",
	}

	var firstname, lastname string
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Create a user, or return the existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			u, err := s.svc.Users.Ensure(s.ctx, args[0], firstname, lastname)
			if err != nil {
				return withCode(serviceExit(err, exitDBWrite), err)
			}
			return writeJSONLine(cmd.OutOrStdout(), u)
		},
	}
	add.Flags().StringVar(&firstname, "firstname", "", "First name")
	add.Flags().StringVar(&lastname, "lastname", "", "Last name")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			users, err := s.svc.Users.List(s.ctx)
			if err != nil {
				return withCode(exitDB, err)
			}
			rows := [][]string{{"id", "email", "firstname", "lastname"}}
			for _, u := range users {
				rows = append(rows, []string{strconv.FormatInt(u.ID, 10), u.Email, u.FirstName, u.LastName})
			}
			return writeTable(cmd.OutOrStdout(), rows)
		},
	})
	return cmd
}
