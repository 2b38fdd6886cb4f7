package amqp

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

var (
	ErrNotConfirmed = errors.New("publish not confirmed by broker")
	// ErrReturned means no queue was bound for the routing key.
	ErrReturned = errors.New("publish returned by broker")
)

// returnBuffer must exceed the publishes in flight on one channel: the
// channel blocks on a full buffer.
const returnBuffer = 256

type Delivery struct {
	RoutingKey    string
	MessageID     string
	CorrelationID string
	ContentType   string
	Type          string
	Headers       amqp.Table
	// Expiration is a per-message TTL; zero means none.
	Expiration time.Duration
	Body       []byte
}

type Producer interface {
	Channel
	// Publish returns after the broker confirmed the message. An unroutable
	// message fails with ErrReturned.
	Publish(ctx context.Context, delivery Delivery) error
}

func NewProducer(
	appID string,
	exchangeConfig *ExchangeConfig,
	queueConfig *QueueConfig,
	bindConfig *BindConfig,
	logger logging.Logger,
) Producer {
	if exchangeConfig == nil && queueConfig == nil {
		panic("exchange or queue config is required")
	}
	return &producer{
		appID:          appID,
		exchangeConfig: exchangeConfig,
		queueConfig:    queueConfig,
		bindConfig:     bindConfig,
		logger:         logger,
		now:            time.Now,
	}
}

type producer struct {
	appID          string
	exchangeConfig *ExchangeConfig
	queueConfig    *QueueConfig
	bindConfig     *BindConfig
	logger         logging.Logger
	now            func() time.Time

	mu      sync.RWMutex
	channel *amqp.Channel
	returns *returnTracker
}

func (p *producer) Connect(conn *amqp.Connection) (err error) {
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

	if p.exchangeConfig != nil {
		err = exchangeDeclare(*p.exchangeConfig, channel)
		if err != nil {
			return err
		}
	}

	if p.queueConfig != nil {
		err = queueDeclare(*p.queueConfig, channel)
		if err != nil {
			return err
		}
	}

	if p.bindConfig != nil {
		err = bindDeclare(*p.bindConfig, channel)
		if err != nil {
			return err
		}
	}

	err = channel.Confirm(false)
	if err != nil {
		return errors.WithStack(err)
	}
	returns := newReturnTracker(channel.NotifyReturn(make(chan amqp.Return, returnBuffer)))

	p.mu.Lock()
	p.channel = channel
	p.returns = returns
	p.mu.Unlock()

	connErrorChan := channel.NotifyClose(make(chan *amqp.Error, 1))
	go p.processConnectErrors(conn, connErrorChan)

	return nil
}

func (p *producer) Publish(ctx context.Context, delivery Delivery) error {
	p.mu.RLock()
	channel, returns := p.channel, p.returns
	p.mu.RUnlock()

	err := validateChannel(channel)
	if err != nil {
		return liberr.Transient(err)
	}

	var exchange string
	if p.exchangeConfig != nil {
		exchange = p.exchangeConfig.Name
	}
	publishing := amqp.Publishing{
		Headers:       delivery.Headers,
		ContentType:   delivery.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: delivery.CorrelationID,
		MessageId:     delivery.MessageID,
		Timestamp:     p.now().UTC(),
		Type:          delivery.Type,
		AppId:         p.appID,
		Body:          delivery.Body,
	}
	if delivery.Expiration > 0 {
		publishing.Expiration = expiration(delivery.Expiration)
	}

	deferredConfirmation, err := channel.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		delivery.RoutingKey,
		true,
		false,
		publishing,
	)
	if err != nil {
		return liberr.Transient(errors.WithStack(err))
	}
	if deferredConfirmation == nil {
		return nil
	}
	publishOk, err := deferredConfirmation.WaitContext(ctx)
	if err != nil {
		return liberr.Transient(errors.WithStack(err))
	}
	if !publishOk {
		return liberr.Transient(errors.WithStack(ErrNotConfirmed))
	}
	return returns.check(delivery.MessageID)
}

// returnTracker collects mandatory publishes the broker could not route.
// The broker sends basic.return before the confirm of the same message, so
// once a publish is confirmed its return, if any, is already buffered.
type returnTracker struct {
	mu       sync.Mutex
	returns  <-chan amqp.Return
	returned map[string]amqp.Return
}

func newReturnTracker(returns <-chan amqp.Return) *returnTracker {
	return &returnTracker{
		returns:  returns,
		returned: make(map[string]amqp.Return),
	}
}

func (t *returnTracker) check(messageID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.drain()
	ret, ok := t.returned[messageID]
	if !ok {
		return nil
	}
	delete(t.returned, messageID)
	if len(t.returned) > returnBuffer {
		// returns of publishes that gave up before their confirm
		clear(t.returned)
	}
	return liberr.Transient(errors.Wrapf(ErrReturned, "%s to %q: %d %s", messageID, ret.RoutingKey, ret.ReplyCode, ret.ReplyText))
}

func (t *returnTracker) drain() {
	for t.returns != nil {
		select {
		case ret, ok := <-t.returns:
			if !ok {
				t.returns = nil
				return
			}
			t.returned[ret.MessageId] = ret
		default:
			return
		}
	}
}

func (p *producer) processConnectErrors(conn *amqp.Connection, ch chan *amqp.Error) {
	err := <-ch
	if err == nil {
		return
	}

	p.logger.Error(err, "AMQP channel error, trying to reconnect")
	reconnectChannel(conn, p.Connect, p.logger)
}

// reconnectChannel reopens a channel on a live connection. A dead connection
// is left to the connection, which reconnects all channels.
func reconnectChannel(conn *amqp.Connection, connect func(conn *amqp.Connection) error, logger logging.Logger) {
	b := newBackOff(0)
	for !conn.IsClosed() {
		err := connect(conn)
		if err == nil {
			logger.Info("AMQP channel restored")
			return
		}
		logger.Error(err, "failed to reconnect to AMQP channel")
		wait := b.NextBackOff()
		if wait < 0 {
			wait = time.Second
		}
		time.Sleep(wait)
	}
}

func validateChannel(channel *amqp.Channel) error {
	if channel == nil {
		return errors.New("amqp channel is empty")
	}
	if channel.IsClosed() {
		return errors.New("amqp channel is closed")
	}
	return nil
}

func expiration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
