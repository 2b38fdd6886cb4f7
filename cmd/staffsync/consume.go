package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/consumer"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/employee"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	applogging "gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/redelivery"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/amqp"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/inbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/metrics"
)

func newConsumeCommand(load func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Apply person events to employee records",
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

			m := metrics.New(metricsNamespace)
			eventConsumer := consumer.NewConsumer(
				event.DefaultRegistry(),
				inbox.NewLedger(c.client),
				c.employeeUnitOfWork(),
				employee.NewApplier(),
				cfg.ConsumerProcessTimeout,
				c.logger.WithField("component", "consumer"),
			)

			conn := c.amqpConnection()
			topology := c.topology()
			coordinator := redelivery.NewCoordinator(
				eventConsumer,
				c.queuePublisher(conn),
				inbox.NewDeadLetterRepository(c.client),
				cfg.ConsumerPolicy(),
				m,
				c.logger.WithField("component", "coordinator"),
			)
			amqpConsumer := conn.Consumer(ctx, amqp.NewDeliveryHandler(coordinator), amqp.ConsumerConfig{
				Exchange: topology.ExchangeConfig(),
				Queue:    topology.QueueConfig(),
				Bind:     topology.BindConfig(),
				QoS:      &amqp.QoSConfig{PrefetchCount: cfg.AMQPPrefetch},
				Declare:  topology.RetryQueueConfigs(),
				Workers:  cfg.ConsumerWorkers,
			})
			if err = conn.Start(); err != nil {
				return err
			}

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return serveMetrics(groupCtx, cfg.MetricsAddr, m, c.logger)
			})

			c.logger.WithFields(applogging.Fields{
				"queue":   topology.Queue,
				"workers": cfg.ConsumerWorkers,
			}).Info("consumer started")
			err = group.Wait()
			amqpConsumer.Wait()
			c.logger.Info("consumer stopped")
			return err
		},
	}
}
