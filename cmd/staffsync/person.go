package main

import (
	"github.com/spf13/cobra"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/person"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
)

type personUpdateOptions struct {
	Name     string
	Email    string
	Position string
}

func newPersonCommand(load func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "person",
		Short: "Manage persons",
	}

	opts := &personUpdateOptions{}
	update := &cobra.Command{
		Use:   "update <personId>",
		Short: "Update a person and stage a PersonUpdated event",
		Long: `Update a person and stage a PersonUpdated event in the same transaction.

Only the flags that are given change; the rest of the person is kept.

Examples:
  staffsync person update 42 --position "Staff Engineer"
  staffsync person update 42 --name "Ada Lovelace" --email ada@example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			c, err := newContainer(ctx, load())
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, c.Close())
			}()

			request := person.Update{PersonID: args[0]}
			if cmd.Flags().Changed("name") {
				request.Name = &opts.Name
			}
			if cmd.Flags().Changed("email") {
				request.Email = &opts.Email
			}
			if cmd.Flags().Changed("position") {
				request.Position = &opts.Position
			}

			// a running publisher picks the record up on its next poll
			updated, err := c.personService(nil).UpdatePerson(ctx, request)
			if err != nil {
				return err
			}
			return writeJSONLines(cmd.OutOrStdout(), []personView{newPersonView(updated)})
		},
	}
	update.Flags().StringVar(&opts.Name, "name", "", "new name")
	update.Flags().StringVar(&opts.Email, "email", "", "new email")
	update.Flags().StringVar(&opts.Position, "position", "", "new position")
	update.MarkFlagsOneRequired("name", "email", "position")

	cmd.AddCommand(update)
	return cmd
}
