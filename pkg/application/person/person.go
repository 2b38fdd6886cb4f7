// Package person is the source of truth for person data. Every update stages
// a PersonUpdated event in the outbox within the same unit of work.
package person

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
)

var ErrPersonNotFound = errors.New("person not found")

type Person struct {
	ID       string
	Name     string
	Email    string
	Position string
	// Version is incremented by every update and carried in the event.
	Version   int64
	UpdatedAt time.Time
}

type Repository interface {
	GetForUpdate(ctx context.Context, id string) (Person, error)
	Get(ctx context.Context, id string) (Person, error)
	Update(ctx context.Context, person Person) error
}

type RepositoryProvider interface {
	PersonRepository() Repository
	OutboxWriter() outbox.Writer
}

type UnitOfWork interface {
	ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error
}

// Notifier is told that new outbox records were committed.
type Notifier interface {
	Wake()
}

// Update carries the fields to change; nil fields are kept.
type Update struct {
	PersonID string
	Name     *string
	Email    *string
	Position *string
}

type Service interface {
	UpdatePerson(ctx context.Context, update Update) (Person, error)
}

func NewService(uow UnitOfWork, notifier Notifier, logger logging.Logger) Service {
	return &service{
		uow:      uow,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

type service struct {
	uow      UnitOfWork
	notifier Notifier
	logger   logging.Logger
	now      func() time.Time
}

func (s *service) UpdatePerson(ctx context.Context, update Update) (Person, error) {
	var (
		updated Person
		staged  outbox.Record
	)
	err := s.uow.ExecuteWithUnitOfWork(ctx, func(provider RepositoryProvider) error {
		repo := provider.PersonRepository()
		current, err := repo.GetForUpdate(ctx, update.PersonID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updated = apply(current, update)
		updated.Version = current.Version + 1
		updated.UpdatedAt = now
		if err = repo.Update(ctx, updated); err != nil {
			return err
		}

		e, err := event.New(event.PersonUpdatedV1{
			PersonID: updated.ID,
			Name:     updated.Name,
			Email:    updated.Email,
			Position: updated.Position,
			Version:  updated.Version,
		}, now)
		if err != nil {
			return err
		}
		staged, err = outbox.Stage(ctx, provider.OutboxWriter(), e, now)
		return err
	})
	if err != nil {
		return Person{}, errors.Wrapf(err, "update person %s", update.PersonID)
	}

	s.logger.WithFields(logging.Fields{
		"person_id": updated.ID,
		"version":   updated.Version,
		"event_id":  staged.EventID,
	}).Info("person updated")
	if s.notifier != nil {
		s.notifier.Wake()
	}
	return updated, nil
}

func apply(p Person, update Update) Person {
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Email != nil {
		p.Email = *update.Email
	}
	if update.Position != nil {
		p.Position = *update.Position
	}
	return p
}
