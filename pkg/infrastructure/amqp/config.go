package amqp

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type ConnectionConfig struct {
	User           string
	Password       string
	Host           string
	ConnectTimeout time.Duration
}

type ExchangeConfig struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	NoWait     bool
	Args       amqp.Table
}

type QueueConfig struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	NoWait     bool
	Args       amqp.Table
}

type QoSConfig struct {
	PrefetchCount int
	PrefetchSize  int
	Global        bool
}

type BindConfig struct {
	QueueName    string
	ExchangeName string
	RoutingKeys  []string
	NoWait       bool
	Args         amqp.Table
}

func exchangeDeclare(config ExchangeConfig, channel *amqp.Channel) error {
	return errors.WithStack(channel.ExchangeDeclare(
		config.Name,
		config.Kind,
		config.Durable,
		config.AutoDelete,
		config.Internal,
		config.NoWait,
		config.Args,
	))
}

func queueDeclare(config QueueConfig, channel *amqp.Channel) error {
	_, err := channel.QueueDeclare(
		config.Name,
		config.Durable,
		config.AutoDelete,
		config.Exclusive,
		config.NoWait,
		config.Args,
	)
	return errors.WithStack(err)
}

func bindDeclare(config BindConfig, channel *amqp.Channel) error {
	for _, routingKey := range config.RoutingKeys {
		err := channel.QueueBind(config.QueueName, routingKey, config.ExchangeName, config.NoWait, config.Args)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func qosDeclare(config QoSConfig, channel *amqp.Channel) error {
	return errors.WithStack(channel.Qos(config.PrefetchCount, config.PrefetchSize, config.Global))
}

// Topology is the broker layout shared by the publisher and the consumer.
type Topology struct {
	Exchange   string
	Queue      string
	RetryQueue string
	// RetryTiers splits the retry queue by failed attempt count, so a long
	// delay never holds back a shorter one behind it. One tier or less keeps
	// the single RetryQueue.
	RetryTiers int
	// RoutingKeys bind Queue to Exchange; events are routed by type.
	RoutingKeys []string
}

func (t Topology) ExchangeConfig() *ExchangeConfig {
	return &ExchangeConfig{
		Name:    t.Exchange,
		Kind:    amqp.ExchangeDirect,
		Durable: true,
	}
}

func (t Topology) QueueConfig() *QueueConfig {
	return &QueueConfig{
		Name:    t.Queue,
		Durable: true,
	}
}

func (t Topology) BindConfig() *BindConfig {
	return &BindConfig{
		QueueName:    t.Queue,
		ExchangeName: t.Exchange,
		RoutingKeys:  t.RoutingKeys,
	}
}

// RetryQueueName is the delay queue for a redelivery after failedAttempts
// failures. Counts past the last tier share it.
func (t Topology) RetryQueueName(failedAttempts int) string {
	if t.RetryTiers <= 1 {
		return t.RetryQueue
	}
	tier := min(max(failedAttempts, 1), t.RetryTiers)
	return fmt.Sprintf("%s.%d", t.RetryQueue, tier)
}

// RetryQueueConfigs declares the delay queues. Messages expire there after
// their per-message TTL and are dead-lettered back into Queue.
func (t Topology) RetryQueueConfigs() []*QueueConfig {
	tiers := max(t.RetryTiers, 1)
	configs := make([]*QueueConfig, 0, tiers)
	for tier := 1; tier <= tiers; tier++ {
		configs = append(configs, &QueueConfig{
			Name:    t.RetryQueueName(tier),
			Durable: true,
			Args: amqp.Table{
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": t.Queue,
			},
		})
	}
	return configs
}
