// Package redelivery decides what happens to a broker delivery after the
// consumer has processed it: ack, delayed retry, or dead-letter.
package redelivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/consumer"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/deadletter"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/retry"
)

// Delivery is a message as received from the broker.
type Delivery struct {
	MessageID string
	Body      []byte
	// Attempt is 1-based; the broker adapter reads it from a message header.
	Attempt int
}

// Acknowledgement is what the broker adapter must do with the delivery.
type Acknowledgement int

const (
	// AckMessage removes the message from the queue.
	AckMessage Acknowledgement = iota
	// RequeueMessage returns the message to the queue for immediate redelivery.
	RequeueMessage
	// DropMessage removes the message without processing it further.
	DropMessage
)

func (a Acknowledgement) String() string {
	switch a {
	case AckMessage:
		return "ack"
	case RequeueMessage:
		return "requeue"
	default:
		return "drop"
	}
}

// Redeliverer schedules another delivery of body after delay.
type Redeliverer interface {
	Redeliver(ctx context.Context, delivery Delivery, attempt int, delay time.Duration) error
}

type Observer interface {
	DeliveryHandled(outcome string)
	DeadLettered(kind deadletter.Kind)
}

const (
	OutcomeApplied   = "applied"
	OutcomeStale     = "stale"
	OutcomeDuplicate = "duplicate"
	OutcomeRetried   = "retried"
	OutcomeParked    = "dead_lettered"
	OutcomeRequeued  = "requeued"
)

type Coordinator interface {
	Handle(ctx context.Context, delivery Delivery) Acknowledgement
}

func NewCoordinator(
	c consumer.Consumer,
	redeliverer Redeliverer,
	deadLetters deadletter.Repository,
	policy retry.Policy,
	observer Observer,
	logger logging.Logger,
) Coordinator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &coordinator{
		consumer:    c,
		redeliverer: redeliverer,
		deadLetters: deadLetters,
		policy:      policy,
		observer:    observer,
		logger:      logger,
		now:         time.Now,
	}
}

type coordinator struct {
	consumer    consumer.Consumer
	redeliverer Redeliverer
	deadLetters deadletter.Repository
	policy      retry.Policy
	observer    Observer
	logger      logging.Logger
	now         func() time.Time
}

func (c *coordinator) Handle(ctx context.Context, delivery Delivery) Acknowledgement {
	result := c.consumer.OnDelivery(ctx, consumer.Delivery{
		Body:    delivery.Body,
		Attempt: delivery.Attempt,
	})

	eventID := result.Event.EventID
	if eventID == "" {
		eventID = fallbackEventID(delivery)
	}
	state := retry.Settle(eventID, delivery.Attempt, c.now().UTC(), verdict(result), result.Reason, c.policy)
	log := c.logger.WithFields(logging.Fields{
		"event_id": eventID,
		"attempt":  state.Attempt,
	})

	switch {
	case state.State == retry.StateAcked:
		c.observer.DeliveryHandled(ackOutcome(result))
		return AckMessage
	case state.State == retry.StateRetrying:
		return c.retry(ctx, delivery, &state, log)
	case result.Requeue:
		return c.park(ctx, delivery, result, &state, deadletter.KindExhausted, log)
	default:
		return c.park(ctx, delivery, result, &state, deadletter.KindPermanent, log)
	}
}

func verdict(result consumer.Result) retry.Verdict {
	switch {
	case result.Action == consumer.Ack:
		return retry.VerdictAck
	case result.Requeue:
		return retry.VerdictRetry
	default:
		return retry.VerdictReject
	}
}

func (c *coordinator) retry(ctx context.Context, delivery Delivery, state *retry.Delivery, log logging.Logger) Acknowledgement {
	err := c.redeliverer.Redeliver(ctx, delivery, state.Attempt+1, state.NextAttemptIn)
	if err != nil {
		// The original stays on the queue; nothing is lost.
		log.Error(err, "failed to schedule redelivery, requeueing")
		c.observer.DeliveryHandled(OutcomeRequeued)
		return RequeueMessage
	}
	log.WithField("retry_in", state.NextAttemptIn.String()).Warning(state.LastError, "delivery failed, retry scheduled")
	c.observer.DeliveryHandled(OutcomeRetried)
	return AckMessage
}

func (c *coordinator) park(
	ctx context.Context,
	delivery Delivery,
	result consumer.Result,
	state *retry.Delivery,
	kind deadletter.Kind,
	log logging.Logger,
) Acknowledgement {
	reason := "unknown"
	if state.LastError != nil {
		reason = state.LastError.Error()
	}
	now := state.LastAttemptAt
	record := deadletter.Record{
		EventID:       state.EventID,
		EventType:     result.Event.EventType,
		AggregateID:   result.Event.AggregateID,
		Body:          delivery.Body,
		FailureReason: reason,
		FailureKind:   kind,
		AttemptCount:  state.Attempt,
		FirstFailedAt: now,
		LastAttemptAt: now,
		Status:        deadletter.StatusParked,
	}
	if err := c.deadLetters.Park(ctx, record); err != nil {
		log.Error(errors.Wrap(err, "park dead letter"), "failed to dead-letter delivery, requeueing")
		c.observer.DeliveryHandled(OutcomeRequeued)
		return RequeueMessage
	}

	log.WithFields(logging.Fields{
		"failure_kind": string(kind),
		"alarm":        true,
	}).Error(state.LastError, "delivery dead-lettered")
	c.observer.DeadLettered(kind)
	c.observer.DeliveryHandled(OutcomeParked)
	return DropMessage
}

func ackOutcome(result consumer.Result) string {
	if result.Duplicate {
		return OutcomeDuplicate
	}
	if result.Outcome != "" {
		return string(result.Outcome)
	}
	return OutcomeApplied
}

// fallbackEventID keys undecodable bodies so repeated deliveries of the same
// bytes land on one dead-letter record.
func fallbackEventID(delivery Delivery) string {
	if delivery.MessageID != "" {
		return delivery.MessageID
	}
	sum := sha256.Sum256(delivery.Body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type nopObserver struct{}

func (nopObserver) DeliveryHandled(string) {}

func (nopObserver) DeadLettered(deadletter.Kind) {}
