package main

import (
	"time"

	"github.com/spf13/cobra"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
	outboxrepo "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/outbox"
)

func newOutboxCommand(load func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and recover outbox records",
	}

	var limit int
	failed := &cobra.Command{
		Use:   "failed",
		Short: "List records that ran out of publish attempts",
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

			records, err := outboxrepo.NewRepository(c.client, outboxTransport).ListFailed(ctx, limit)
			if err != nil {
				return err
			}
			views := make([]outboxView, 0, len(records))
			for _, record := range records {
				views = append(views, newOutboxView(record))
			}
			return writeJSONLines(cmd.OutOrStdout(), views)
		},
	}
	failed.Flags().IntVar(&limit, "limit", 100, "maximum number of records")

	requeue := &cobra.Command{
		Use:   "requeue <eventId>",
		Short: "Return a failed record to pending with a fresh attempt budget",
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

			err = outboxrepo.NewRepository(c.client, outboxTransport).Requeue(ctx, args[0], time.Now())
			if err != nil {
				return err
			}
			c.logger.WithField("event_id", args[0]).Info("outbox record requeued")
			return nil
		},
	}

	cmd.AddCommand(failed, requeue)
	return cmd
}
