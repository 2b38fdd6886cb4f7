package amqp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/redelivery"
)

// AttemptHeader carries the 1-based delivery attempt of a message.
const AttemptHeader = "x-staffsync-attempt"

// CorrelationID is stable for a given event, so every resend of it carries
// the same id.
func CorrelationID(appID string, body []byte, eventID string) string {
	payloadHash := sha256.Sum256(body)

	const separator = ":"
	return strings.Join(
		[]string{
			appID,
			base64.URLEncoding.EncodeToString(payloadHash[:]),
			eventID,
		},
		separator,
	)
}

// NewEventBroker publishes outbox messages to the events exchange, routed by
// event type.
func NewEventBroker(appID string, producer Producer) outbox.Broker {
	return &eventBroker{
		appID:    appID,
		producer: producer,
	}
}

type eventBroker struct {
	appID    string
	producer Producer
}

func (b *eventBroker) Publish(ctx context.Context, msg outbox.Message) error {
	return b.producer.Publish(ctx, Delivery{
		RoutingKey:    msg.EventType,
		MessageID:     msg.EventID,
		CorrelationID: CorrelationID(b.appID, msg.Body, msg.EventID),
		ContentType:   event.ContentType,
		Type:          msg.EventType,
		Headers:       attemptHeaders(1),
		Body:          msg.Body,
	})
}

// QueuePublisher sends straight to the consumer's queues through the default
// exchange: delayed redeliveries go to the retry queue, dead letter replays
// to the main queue.
type QueuePublisher interface {
	Redeliver(ctx context.Context, delivery redelivery.Delivery, attempt int, delay time.Duration) error
	Republish(ctx context.Context, eventID string, body []byte) error
}

// NewQueuePublisher expects a producer without an exchange.
func NewQueuePublisher(appID string, producer Producer, topology Topology) QueuePublisher {
	return &queuePublisher{
		appID:    appID,
		producer: producer,
		topology: topology,
	}
}

type queuePublisher struct {
	appID    string
	producer Producer
	topology Topology
}

func (p *queuePublisher) Redeliver(ctx context.Context, delivery redelivery.Delivery, attempt int, delay time.Duration) error {
	if delay <= 0 {
		// a message without TTL would stay in the retry queue forever
		delay = time.Millisecond
	}
	return p.producer.Publish(ctx, Delivery{
		RoutingKey:    p.topology.RetryQueueName(attempt - 1),
		MessageID:     delivery.MessageID,
		CorrelationID: CorrelationID(p.appID, delivery.Body, delivery.MessageID),
		ContentType:   event.ContentType,
		Headers:       attemptHeaders(attempt),
		Expiration:    delay,
		Body:          delivery.Body,
	})
}

func (p *queuePublisher) Republish(ctx context.Context, eventID string, body []byte) error {
	return p.producer.Publish(ctx, Delivery{
		RoutingKey:    p.topology.Queue,
		MessageID:     eventID,
		CorrelationID: CorrelationID(p.appID, body, eventID),
		ContentType:   event.ContentType,
		Headers:       attemptHeaders(1),
		Body:          body,
	})
}

// NewDeliveryHandler feeds deliveries to the coordinator and maps its
// decision onto the broker acknowledgement.
func NewDeliveryHandler(coordinator redelivery.Coordinator) Handler {
	return func(ctx context.Context, delivery Delivery) Acknowledgement {
		ack := coordinator.Handle(ctx, redelivery.Delivery{
			MessageID: delivery.MessageID,
			Body:      delivery.Body,
			Attempt:   Attempt(delivery.Headers),
		})
		switch ack {
		case redelivery.AckMessage:
			return Ack
		case redelivery.RequeueMessage:
			return Requeue
		default:
			return Reject
		}
	}
}

// Attempt reads AttemptHeader, defaulting to the first attempt.
func Attempt(headers amqp.Table) int {
	var attempt int64
	switch v := headers[AttemptHeader].(type) {
	case int8:
		attempt = int64(v)
	case int16:
		attempt = int64(v)
	case int32:
		attempt = int64(v)
	case int64:
		attempt = v
	case int:
		attempt = int64(v)
	case uint8:
		attempt = int64(v)
	case uint16:
		attempt = int64(v)
	case uint32:
		attempt = int64(v)
	case string:
		attempt, _ = strconv.ParseInt(v, 10, 64)
	}
	if attempt < 1 {
		return 1
	}
	return int(attempt)
}

func attemptHeaders(attempt int) amqp.Table {
	return amqp.Table{AttemptHeader: int32(attempt)}
}
