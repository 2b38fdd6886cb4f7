// Package consumer applies delivered events to the dependent store exactly
// once in effect, using the idempotency ledger.
package consumer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/employee"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/ledger"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

type Action int

const (
	Ack Action = iota
	Nack
)

func (a Action) String() string {
	if a == Ack {
		return "ack"
	}
	return "nack"
}

type Delivery struct {
	Body []byte
	// Attempt is 1-based.
	Attempt int
}

type Result struct {
	Action  Action
	Requeue bool
	Reason  error
	// Event is zero when the body could not be decoded.
	Event     event.DomainEvent
	Duplicate bool
	Outcome   ledger.Outcome
}

type RepositoryProvider interface {
	Ledger() ledger.Writer
	EmployeeRepository() employee.Repository
}

type UnitOfWork interface {
	ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error
}

type Applier interface {
	Apply(ctx context.Context, repo employee.Repository, payload event.Payload) (ledger.Mutation, error)
}

type Consumer interface {
	OnDelivery(ctx context.Context, delivery Delivery) Result
}

func NewConsumer(
	registry *event.Registry,
	reader ledger.Reader,
	uow UnitOfWork,
	applier Applier,
	processTimeout time.Duration,
	logger logging.Logger,
) Consumer {
	if processTimeout <= 0 {
		processTimeout = 30 * time.Second
	}
	return &consumer{
		registry:       registry,
		reader:         reader,
		uow:            uow,
		applier:        applier,
		processTimeout: processTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

type consumer struct {
	registry       *event.Registry
	reader         ledger.Reader
	uow            UnitOfWork
	applier        Applier
	processTimeout time.Duration
	logger         logging.Logger
	now            func() time.Time
}

func (c *consumer) OnDelivery(ctx context.Context, delivery Delivery) Result {
	e, err := event.Decode(delivery.Body)
	if err != nil {
		return reject(e, err)
	}
	payload, err := c.registry.Decode(e)
	if err != nil {
		return reject(e, err)
	}

	log := c.logger.WithFields(logging.Fields{
		"event_id":     e.EventID,
		"event_type":   e.EventType,
		"aggregate_id": e.AggregateID,
		"attempt":      delivery.Attempt,
	})

	// dedup must happen before any mutation
	_, err = c.reader.Get(ctx, e.EventID)
	if err == nil {
		log.Info("duplicate event ignored")
		return Result{Action: Ack, Event: e, Duplicate: true}
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return c.failure(log, e, errors.Wrap(err, "ledger lookup"))
	}

	processCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	defer cancel()

	var outcome ledger.Outcome
	err = c.uow.ExecuteWithUnitOfWork(processCtx, func(provider RepositoryProvider) error {
		mutation, err := c.applier.Apply(processCtx, provider.EmployeeRepository(), payload)
		if err != nil {
			return err
		}
		hash, err := ledger.OutcomeHash(mutation)
		if err != nil {
			return err
		}
		outcome = mutation.Outcome
		return provider.Ledger().Insert(processCtx, ledger.Record{
			EventID:     e.EventID,
			AggregateID: e.AggregateID,
			Outcome:     mutation.Outcome,
			OutcomeHash: hash,
			Attempts:    delivery.Attempt,
			ProcessedAt: c.now().UTC(),
		})
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyProcessed) {
			log.Info("concurrent duplicate event ignored")
			return Result{Action: Ack, Event: e, Duplicate: true}
		}
		if processCtx.Err() != nil && ctx.Err() == nil {
			err = liberr.Transient(errors.Wrap(err, "processing timed out"))
		}
		return c.failure(log, e, err)
	}

	if outcome == ledger.OutcomeStale {
		log.Info("stale event ignored")
	} else {
		log.Info("event applied")
	}
	return Result{Action: Ack, Event: e, Outcome: outcome}
}

// failure treats unclassified errors as transient: retrying and
// dead-lettering by exhaustion is safer than dropping.
func (c *consumer) failure(log logging.Logger, e event.DomainEvent, err error) Result {
	if liberr.IsPermanent(err) {
		log.Error(err, "event rejected")
		return reject(e, err)
	}
	log.Warning(err, "event processing failed, requeue")
	return Result{Action: Nack, Requeue: true, Reason: err, Event: e}
}

func reject(e event.DomainEvent, err error) Result {
	return Result{Action: Nack, Requeue: false, Reason: err, Event: e}
}
