// Package employee applies person updates to the employee service's store.
package employee

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/ledger"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

var ErrEmployeeNotFound = errors.New("employee not found")

type Employee struct {
	PersonID      string
	Name          string
	Email         string
	Position      string
	SourceVersion int64
	UpdatedAt     time.Time
}

type Repository interface {
	// GetForUpdate reads and locks the employee until the unit of work ends.
	GetForUpdate(ctx context.Context, personID string) (Employee, error)
	Get(ctx context.Context, personID string) (Employee, error)
	Update(ctx context.Context, employee Employee) error
}

type Applier struct {
	now func() time.Time
}

func NewApplier() *Applier {
	return &Applier{now: time.Now}
}

// Apply mutates the employee linked to the event's person. An event whose
// version is not newer than the stored one is a no-op: state is never
// downgraded by a late redelivery.
func (a *Applier) Apply(ctx context.Context, repo Repository, payload event.Payload) (ledger.Mutation, error) {
	switch p := payload.(type) {
	case event.PersonUpdatedV1:
		return a.applyPersonUpdated(ctx, repo, p)
	default:
		return ledger.Mutation{}, liberr.Permanent(errors.Errorf("no mutation for %s v%d", payload.EventType(), payload.SchemaVersion()))
	}
}

func (a *Applier) applyPersonUpdated(ctx context.Context, repo Repository, p event.PersonUpdatedV1) (ledger.Mutation, error) {
	current, err := repo.GetForUpdate(ctx, p.PersonID)
	if err != nil {
		if errors.Is(err, ErrEmployeeNotFound) {
			return ledger.Mutation{}, liberr.Permanent(errors.Wrapf(err, "person %s", p.PersonID))
		}
		return ledger.Mutation{}, err
	}

	if p.Version <= current.SourceVersion {
		return ledger.Mutation{
			AggregateID: p.PersonID,
			Outcome:     ledger.OutcomeStale,
			Version:     p.Version,
		}, nil
	}

	updated := current
	updated.Name = p.Name
	updated.Email = p.Email
	updated.Position = p.Position
	updated.SourceVersion = p.Version
	updated.UpdatedAt = a.now().UTC()
	if err = repo.Update(ctx, updated); err != nil {
		return ledger.Mutation{}, err
	}

	return ledger.Mutation{
		AggregateID: p.PersonID,
		Outcome:     ledger.OutcomeApplied,
		Version:     p.Version,
		Fields: map[string]string{
			"name":     p.Name,
			"email":    p.Email,
			"position": p.Position,
		},
	}, nil
}
