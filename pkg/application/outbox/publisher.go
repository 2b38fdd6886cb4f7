package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/retry"
)

type PublisherConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	PublishTimeout time.Duration
	Policy         retry.Policy
}

type Publisher interface {
	// Run polls until ctx is done.
	Run(ctx context.Context) error
	// PublishBatch claims and publishes one batch, returning how many
	// records were published.
	PublishBatch(ctx context.Context) (int, error)
	// Wake triggers a poll without waiting for the interval.
	Wake()
}

func NewPublisher(
	repo Repository,
	broker Broker,
	config PublisherConfig,
	observer Observer,
	logger logging.Logger,
) Publisher {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &publisher{
		repo:     repo,
		broker:   broker,
		config:   config,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

type publisher struct {
	repo     Repository
	broker   Broker
	config   PublisherConfig
	observer Observer
	logger   logging.Logger
	now      func() time.Time

	wake chan struct{}
}

func (p *publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		for {
			published, err := p.PublishBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error(err, "outbox publish batch failed")
				break
			}
			// a full batch means more work is probably waiting
			if published < p.config.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *publisher) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.repo.Claim(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "claim outbox records")
	}

	var published int
	for _, record := range records {
		if ctx.Err() != nil {
			// unprocessed claims are released by the janitor after the lease
			return published, ctx.Err()
		}
		ok, err := p.publish(ctx, record)
		if err != nil {
			return published, err
		}
		if ok {
			published++
		}
	}
	return published, nil
}

func (p *publisher) publish(ctx context.Context, record Record) (bool, error) {
	log := p.logger.WithFields(logging.Fields{
		"event_id":     record.EventID,
		"event_type":   record.EventType,
		"aggregate_id": record.AggregateID,
	})

	publishCtx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	publishErr := p.broker.Publish(publishCtx, Message{
		EventID:     record.EventID,
		EventType:   record.EventType,
		AggregateID: record.AggregateID,
		Body:        record.Body,
	})
	cancel()

	now := p.now()
	if publishErr == nil {
		if err := p.repo.MarkPublished(ctx, record.EventID, now); err != nil {
			// the event is out; a duplicate send after lease expiry is absorbed by the consumer
			return false, errors.Wrapf(err, "mark event %s published", record.EventID)
		}
		record.Status = StatusPublished
		record.PublishedAt = &now
		p.observer.OutboxPublished(ctx, record)
		log.Info("outbox event published")
		return true, nil
	}

	record.Attempts++
	record.LastError = publishErr.Error()
	p.observer.OutboxPublishFailed(ctx, record, publishErr)

	if p.config.Policy.Exhausted(record.Attempts) {
		if err := p.repo.MarkFailed(ctx, record.EventID, record.Attempts, record.LastError); err != nil {
			return false, errors.Wrapf(err, "mark event %s failed", record.EventID)
		}
		record.Status = StatusFailed
		p.observer.OutboxFailed(ctx, record, publishErr)
		log.WithFields(logging.Fields{
			"alarm":    true,
			"attempts": record.Attempts,
		}).Error(publishErr, "outbox event failed permanently, operator action required")
		return false, nil
	}

	record.NextAttemptAt = now.Add(p.config.Policy.Delay(record.Attempts))
	if err := p.repo.Reschedule(ctx, record.EventID, record.Attempts, record.NextAttemptAt, record.LastError); err != nil {
		return false, errors.Wrapf(err, "reschedule event %s", record.EventID)
	}
	log.WithFields(logging.Fields{
		"attempts":        record.Attempts,
		"next_attempt_at": record.NextAttemptAt,
	}).Warning(publishErr, "outbox publish failed, rescheduled")
	return false, nil
}
