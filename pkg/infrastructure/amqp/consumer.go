package amqp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

type Acknowledgement int

const (
	Ack Acknowledgement = iota
	// Requeue returns the message to the queue.
	Requeue
	// Reject drops the message.
	Reject
)

type Handler func(ctx context.Context, delivery Delivery) Acknowledgement

type ConsumerConfig struct {
	Exchange *ExchangeConfig
	Queue    *QueueConfig
	Bind     *BindConfig
	QoS      *QoSConfig
	// Declare lists extra queues the consumer depends on, e.g. the retry queue.
	Declare []*QueueConfig
	// Workers handle deliveries concurrently; 1 when zero.
	Workers int
}

type Consumer interface {
	Channel
	// Wait blocks until all workers stopped after the context was cancelled or
	// the channel closed.
	Wait()
}

func NewConsumer(
	ctx context.Context,
	handler Handler,
	config ConsumerConfig,
	logger logging.Logger,
) Consumer {
	if config.Queue == nil {
		panic("queue config is required")
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &consumer{
		ctx:     ctx,
		handler: handler,
		config:  config,
		logger:  logger,
	}
}

type consumer struct {
	ctx     context.Context
	handler Handler
	config  ConsumerConfig
	logger  logging.Logger

	wg sync.WaitGroup
}

func (c *consumer) Connect(conn *amqp.Connection) (err error) {
	channel, err := conn.Channel()
	if err != nil {
		return errors.WithStack(err)
	}
	err = validateChannel(channel)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = liberr.Join(err, channel.Close())
		}
	}()

	if c.config.Exchange != nil {
		err = exchangeDeclare(*c.config.Exchange, channel)
		if err != nil {
			return err
		}
	}

	err = queueDeclare(*c.config.Queue, channel)
	if err != nil {
		return err
	}

	for _, queue := range c.config.Declare {
		err = queueDeclare(*queue, channel)
		if err != nil {
			return err
		}
	}

	if c.config.Bind != nil {
		err = bindDeclare(*c.config.Bind, channel)
		if err != nil {
			return err
		}
	}

	if c.config.QoS != nil {
		err = qosDeclare(*c.config.QoS, channel)
		if err != nil {
			return err
		}
	}

	err = c.consume(channel)
	if err != nil {
		return err
	}

	connErrorChan := channel.NotifyClose(make(chan *amqp.Error, 1))
	go c.processConnectErrors(conn, connErrorChan)

	return nil
}

func (c *consumer) Wait() {
	c.wg.Wait()
}

func (c *consumer) consume(channel *amqp.Channel) error {
	deliveriesChan, err := channel.Consume(c.config.Queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.work(deliveriesChan)
		}()
	}
	return nil
}

func (c *consumer) work(deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(delivery)
		}
	}
}

func (c *consumer) handle(delivery amqp.Delivery) {
	ack := c.handler(c.ctx, Delivery{
		RoutingKey:    delivery.RoutingKey,
		MessageID:     delivery.MessageId,
		CorrelationID: delivery.CorrelationId,
		ContentType:   delivery.ContentType,
		Type:          delivery.Type,
		Headers:       delivery.Headers,
		Body:          delivery.Body,
	})

	var err error
	switch ack {
	case Ack:
		err = delivery.Ack(false)
	case Requeue:
		err = delivery.Nack(false, true)
	default:
		err = delivery.Nack(false, false)
	}
	if err != nil {
		// the broker redelivers unacknowledged messages when the channel is reopened
		c.logger.WithField("message_id", delivery.MessageId).Error(errors.WithStack(err), "failed to acknowledge delivery")
	}
}

func (c *consumer) processConnectErrors(conn *amqp.Connection, ch chan *amqp.Error) {
	err := <-ch
	if err == nil || c.ctx.Err() != nil {
		return
	}

	c.logger.Error(err, "AMQP channel error, trying to reconnect")
	reconnectChannel(conn, c.Connect, c.logger)
}
