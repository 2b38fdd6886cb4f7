package main

import (
	"context"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/consumer"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	applogging "gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/person"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/amqp"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/inbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/repository"
)

// outboxTransport names the outbox table the person service stages into.
const outboxTransport = "amqp"

// container holds the process-wide dependencies of a command. Close releases
// them in reverse order of acquisition.
type container struct {
	cfg    *config.Config
	logger applogging.MainLogger
	closer io.MultiCloser

	client mysql.TransactionalClient
	pool   mysql.ConnectionPool
	locker mysql.Locker
}

func newContainer(ctx context.Context, cfg *config.Config) (*container, error) {
	logger := logging.NewJSONLogger(&logging.Config{
		AppName: cfg.AppID,
		Level:   cfg.LogLevel,
	})

	connector := mysql.NewConnector()
	err := connector.Open(ctx, cfg.MySQLDSN, mysql.Config{
		MaxConnections:        cfg.MySQLMaxConnections,
		ConnectionMaxLifeTime: cfg.MySQLConnMaxLifetime,
		ConnectionMaxIdleTime: cfg.MySQLConnMaxIdleTime,
		ConnectTimeout:        cfg.MySQLConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	closer := io.NewMultiCloser()
	closer.AddCloser(connector)

	client := connector.TransactionalClient()
	pool := mysql.NewConnectionPool(client)
	return &container{
		cfg:    cfg,
		logger: logger,
		closer: closer,
		client: client,
		pool:   pool,
		locker: mysql.NewLocker(pool),
	}, nil
}

func (c *container) Close() error {
	return c.closer.Close()
}

func (c *container) topology() amqp.Topology {
	return amqp.Topology{
		Exchange:    c.cfg.AMQPExchange,
		Queue:       c.cfg.AMQPQueue,
		RetryQueue:  c.cfg.AMQPRetryQueue,
		// a tier per redelivery; MaxAttempts counts the first delivery too
		RetryTiers:  max(c.cfg.ConsumerMaxAttempts-1, 1),
		RoutingKeys: []string{event.PersonUpdatedType},
	}
}

// amqpConnection is stopped by Close. Channels must be added before Start.
func (c *container) amqpConnection() amqp.Connection {
	conn := amqp.NewAMQPConnection(c.cfg.AppID, &amqp.ConnectionConfig{
		User:           c.cfg.AMQPUser,
		Password:       c.cfg.AMQPPassword,
		Host:           c.cfg.AMQPHost,
		ConnectTimeout: c.cfg.AMQPConnectTimeout,
	}, c.logger.WithField("component", "amqp"))
	c.closer.AddCloser(io.CloserFunc(conn.Stop))
	return conn
}

// queuePublisher sends to the consumer's queues through the default exchange.
// The retry queues are declared by the consumer before it takes deliveries.
func (c *container) queuePublisher(conn amqp.Connection) amqp.QueuePublisher {
	topology := c.topology()
	producer := conn.Producer(nil, topology.QueueConfig(), nil)
	return amqp.NewQueuePublisher(c.cfg.AppID, producer, topology)
}

func (c *container) personService(notifier person.Notifier) person.Service {
	uow := mysql.NewUnitOfWork[person.RepositoryProvider](c.pool, repository.NewPersonProvider(outboxTransport))
	return person.NewService(uow, notifier, c.logger.WithField("component", "person"))
}

func (c *container) employeeUnitOfWork() consumer.UnitOfWork {
	return mysql.NewUnitOfWork[consumer.RepositoryProvider](c.pool, repository.NewEmployeeProvider())
}

// deadLetterService may get a nil republisher when it only lists.
func (c *container) deadLetterService(republisher deadletter.Republisher) deadletter.Service {
	return deadletter.NewService(
		inbox.NewDeadLetterRepository(c.client),
		republisher,
		c.locker,
		c.logger.WithField("component", "deadletter"),
	)
}
