package employee

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/event"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/ledger"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

type memoryRepository struct {
	employees map[string]Employee
	updateErr error
}

func (r *memoryRepository) GetForUpdate(ctx context.Context, personID string) (Employee, error) {
	return r.Get(ctx, personID)
}

func (r *memoryRepository) Get(_ context.Context, personID string) (Employee, error) {
	e, ok := r.employees[personID]
	if !ok {
		return Employee{}, ErrEmployeeNotFound
	}
	return e, nil
}

func (r *memoryRepository) Update(_ context.Context, e Employee) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.employees[e.PersonID] = e
	return nil
}

func TestApplierApply(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	newFixture := func() (*Applier, *memoryRepository) {
		repo := &memoryRepository{employees: map[string]Employee{
			"P-42": {PersonID: "P-42", Name: "Alice", SourceVersion: 1},
		}}
		applier := NewApplier()
		applier.now = func() time.Time { return now }
		return applier, repo
	}

	t.Run("applies newer version", func(t *testing.T) {
		applier, repo := newFixture()
		mutation, err := applier.Apply(context.Background(), repo, event.PersonUpdatedV1{
			PersonID: "P-42", Name: "Alicia", Email: "alicia@example.com", Version: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.OutcomeApplied, mutation.Outcome)
		assert.Equal(t, "Alicia", mutation.Fields["name"])

		stored := repo.employees["P-42"]
		assert.Equal(t, "Alicia", stored.Name)
		assert.Equal(t, int64(2), stored.SourceVersion)
		assert.Equal(t, now, stored.UpdatedAt)
	})

	t.Run("stale version is a no-op", func(t *testing.T) {
		applier, repo := newFixture()
		_, err := applier.Apply(context.Background(), repo, event.PersonUpdatedV1{PersonID: "P-42", Name: "Alicia", Version: 3})
		require.NoError(t, err)

		mutation, err := applier.Apply(context.Background(), repo, event.PersonUpdatedV1{PersonID: "P-42", Name: "Ally", Version: 2})
		require.NoError(t, err)
		assert.Equal(t, ledger.OutcomeStale, mutation.Outcome)
		assert.Equal(t, "Alicia", repo.employees["P-42"].Name)
		assert.Equal(t, int64(3), repo.employees["P-42"].SourceVersion)
	})

	t.Run("unknown employee is permanent", func(t *testing.T) {
		applier, repo := newFixture()
		_, err := applier.Apply(context.Background(), repo, event.PersonUpdatedV1{PersonID: "P-404", Version: 1})
		assert.ErrorIs(t, err, ErrEmployeeNotFound)
		assert.True(t, liberr.IsPermanent(err))
	})

	t.Run("store errors pass through", func(t *testing.T) {
		applier, repo := newFixture()
		repo.updateErr = liberr.Transient(errors.New("lock wait timeout"))
		_, err := applier.Apply(context.Background(), repo, event.PersonUpdatedV1{PersonID: "P-42", Version: 5})
		assert.True(t, liberr.IsTransient(err))
	})
}
