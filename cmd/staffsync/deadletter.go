package main

import (
	"github.com/spf13/cobra"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
)

func newDeadLetterCommand(load func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay events the consumer gave up on",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			c, err := newContainer(ctx, load())
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, c.Close())
			}()

			records, err := c.deadLetterService(nil).List(ctx, deadletter.Status(status), limit)
			if err != nil {
				return err
			}
			views := make([]deadLetterView, 0, len(records))
			for _, record := range records {
				views = append(views, newDeadLetterView(record))
			}
			return writeJSONLines(cmd.OutOrStdout(), views)
		},
	}
	list.Flags().StringVar(&status, "status", string(deadletter.StatusParked), "parked, replayed or empty for all")
	list.Flags().IntVar(&limit, "limit", 100, "maximum number of records")

	replay := &cobra.Command{
		Use:   "replay <eventId>",
		Short: "Send a dead letter back to the consumer as a first delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			c, err := newContainer(ctx, load())
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, c.Close())
			}()

			conn := c.amqpConnection()
			publisher := c.queuePublisher(conn)
			if err = conn.Start(); err != nil {
				return err
			}
			return c.deadLetterService(publisher).Replay(ctx, args[0])
		},
	}

	cmd.AddCommand(list, replay)
	return cmd
}
