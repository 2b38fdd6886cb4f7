// Package deadletter parks events the consumer could not apply and lets
// operators inspect and replay them.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
)

type Kind string

const (
	// KindPermanent is a failure no retry can fix: malformed body,
	// unsupported schema, missing employee.
	KindPermanent Kind = "permanent"
	// KindExhausted is a transient failure that outlived the retry budget.
	KindExhausted Kind = "exhausted"
)

type Status string

const (
	StatusParked   Status = "parked"
	StatusReplayed Status = "replayed"
)

var ErrNotFound = errors.New("dead letter not found")

type Record struct {
	EventID       string
	EventType     string
	AggregateID   string
	Body          []byte
	FailureReason string
	FailureKind   Kind
	AttemptCount  int
	FirstFailedAt time.Time
	LastAttemptAt time.Time
	Status        Status
	ReplayedAt    *time.Time
}

type Repository interface {
	// Park stores r, or refreshes the failure details and parks again an
	// existing record with the same EventID. There is one record per event.
	Park(ctx context.Context, r Record) error
	Get(ctx context.Context, eventID string) (Record, error)
	// List returns records with the given status, or all when status is empty.
	List(ctx context.Context, status Status, limit int) ([]Record, error)
	MarkReplayed(ctx context.Context, eventID string, replayedAt time.Time) error
}

// Republisher sends a body as a fresh first delivery.
type Republisher interface {
	Republish(ctx context.Context, eventID string, body []byte) error
}

type Locker interface {
	ExecuteWithLock(ctx context.Context, lockName string, lockTimeout time.Duration, callback func() error) error
}

type Service interface {
	List(ctx context.Context, status Status, limit int) ([]Record, error)
	Get(ctx context.Context, eventID string) (Record, error)
	// Replay resubmits a parked event. The replayed delivery goes through the
	// normal ledger lookup, so an event applied meanwhile stays a no-op.
	Replay(ctx context.Context, eventID string) error
}

func NewService(repo Repository, republisher Republisher, locker Locker, logger logging.Logger) Service {
	return &service{
		repo:        repo,
		republisher: republisher,
		locker:      locker,
		logger:      logger,
		now:         time.Now,
	}
}

type service struct {
	repo        Repository
	republisher Republisher
	locker      Locker
	logger      logging.Logger
	now         func() time.Time
}

func (s *service) List(ctx context.Context, status Status, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.List(ctx, status, limit)
}

func (s *service) Get(ctx context.Context, eventID string) (Record, error) {
	return s.repo.Get(ctx, eventID)
}

func (s *service) Replay(ctx context.Context, eventID string) error {
	const lockTimeout = 5 * time.Second
	return s.locker.ExecuteWithLock(ctx, fmt.Sprintf("deadletter_replay_%s", eventID), lockTimeout, func() error {
		record, err := s.repo.Get(ctx, eventID)
		if err != nil {
			return err
		}
		log := s.logger.WithFields(logging.Fields{
			"event_id":     record.EventID,
			"event_type":   record.EventType,
			"aggregate_id": record.AggregateID,
		})
		if record.Status == StatusReplayed {
			log.Info("dead letter was already replayed, replaying again")
		}

		if err = s.republisher.Republish(ctx, record.EventID, record.Body); err != nil {
			return errors.Wrapf(err, "republish dead letter %s", eventID)
		}
		if err = s.repo.MarkReplayed(ctx, record.EventID, s.now().UTC()); err != nil {
			return errors.Wrapf(err, "mark dead letter %s replayed", eventID)
		}
		log.Info("dead letter replayed")
		return nil
	})
}
