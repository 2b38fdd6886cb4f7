package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/amqp"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/metrics"
	outboxrepo "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/outbox"
)

func newPublishCommand(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publish staged outbox records to the broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			cfg := load()

			c, err := newContainer(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := c.Close(); closeErr != nil {
					c.logger.Error(closeErr, "failed to release resources")
				}
			}()

			conn := c.amqpConnection()
			topology := c.topology()
			broker := amqp.NewEventBroker(cfg.AppID, conn.Producer(topology.ExchangeConfig(), topology.QueueConfig(), topology.BindConfig()))
			if err = conn.Start(); err != nil {
				return err
			}

			m := metrics.New(metricsNamespace)
			repo := outboxrepo.NewRepository(c.client, outboxTransport)
			publisherConfig := outbox.PublisherConfig{
				BatchSize:      cfg.PublisherBatchSize,
				PollInterval:   cfg.PublisherPollInterval,
				PublishTimeout: cfg.PublisherTimeout,
				Policy:         cfg.OutboxPolicy(),
			}
			janitor := outbox.NewJanitor(repo, c.locker, outbox.JanitorConfig{
				Interval:   cfg.OutboxJanitorInterval,
				ClaimLease: cfg.OutboxClaimLease,
				Retention:  cfg.OutboxRetention,
			}, c.logger.WithField("component", "janitor"))

			group, groupCtx := errgroup.WithContext(ctx)
			workers := max(cfg.PublisherWorkers, 1)
			for i := 0; i < workers; i++ {
				publisher := outbox.NewPublisher(repo, broker, publisherConfig, m, c.logger.WithField("worker", i))
				group.Go(func() error {
					return publisher.Run(groupCtx)
				})
			}
			group.Go(func() error {
				return janitor.Run(groupCtx)
			})
			group.Go(func() error {
				return serveMetrics(groupCtx, cfg.MetricsAddr, m, c.logger)
			})

			c.logger.WithField("workers", workers).Info("publisher started")
			err = group.Wait()
			c.logger.Info("publisher stopped")
			return err
		},
	}
}
