package amqp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
)

type Connection interface {
	Start() error
	Stop() error
	AddChannel(channel Channel)

	Producer(exchangeConfig *ExchangeConfig, queueConfig *QueueConfig, bindConfig *BindConfig) Producer
	Consumer(ctx context.Context, handler Handler, config ConsumerConfig) Consumer
}

// Channel is (re)opened on every successful connect.
type Channel interface {
	Connect(conn *amqp.Connection) error
}

func NewAMQPConnection(appID string, config *ConnectionConfig, logger logging.Logger) Connection {
	return &connection{
		appID:  appID,
		config: config,
		logger: logger,
	}
}

type connection struct {
	appID  string
	config *ConnectionConfig
	logger logging.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channels []Channel
	stopped  bool
}

func (c *connection) Start() error {
	url := fmt.Sprintf("amqp://%s:%s@%s/", c.config.User, c.config.Password, c.config.Host)

	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(url)
		return dialErr
	}, newBackOff(c.config.ConnectTimeout))
	if err != nil {
		return errors.Wrapf(err, "dial amqp %s", c.config.Host)
	}

	if err = c.validateConnection(conn); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	for _, channel := range c.channels {
		if err = channel.Connect(conn); err != nil {
			return err
		}
	}

	connErrorChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.processConnectErrors(connErrorChan)

	return nil
}

func (c *connection) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.conn == nil {
		return nil
	}
	return errors.WithStack(c.conn.Close())
}

func (c *connection) AddChannel(channel Channel) {
	c.mu.Lock()
	c.channels = append(c.channels, channel)
	c.mu.Unlock()
}

func (c *connection) Producer(exchangeConfig *ExchangeConfig, queueConfig *QueueConfig, bindConfig *BindConfig) Producer {
	producer := NewProducer(c.appID, exchangeConfig, queueConfig, bindConfig, c.logger)
	c.AddChannel(producer)
	return producer
}

func (c *connection) Consumer(ctx context.Context, handler Handler, config ConsumerConfig) Consumer {
	consumer := NewConsumer(ctx, handler, config, c.logger)
	c.AddChannel(consumer)
	return consumer
}

func (c *connection) validateConnection(conn *amqp.Connection) error {
	if conn == nil {
		return errors.New("amqp connection is empty")
	}
	if conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	return nil
}

func (c *connection) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *connection) processConnectErrors(ch chan *amqp.Error) {
	err := <-ch
	if err == nil || c.isStopped() {
		return
	}

	c.logger.Error(err, "AMQP connection error, trying to reconnect")
	for !c.isStopped() {
		err := c.Start()
		if err == nil {
			c.logger.Info("AMQP connection restored")
			return
		}
		c.logger.Error(err, "failed to reconnect to AMQP")
	}
}

func newBackOff(timeout time.Duration) backoff.BackOff {
	exponentialBackOff := backoff.NewExponentialBackOff()
	const defaultTimeout = 60 * time.Second
	if timeout != 0 {
		exponentialBackOff.MaxElapsedTime = timeout
	} else {
		exponentialBackOff.MaxElapsedTime = defaultTimeout
	}
	exponentialBackOff.MaxInterval = 5 * time.Second
	return exponentialBackOff
}
