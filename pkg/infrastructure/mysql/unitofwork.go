package mysql

import (
	"context"
	"fmt"

	liberrors "github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/sharedpool"
)

type RepositoryProviderBuilder[RepositoryProvider any] func(client ClientContext) RepositoryProvider

// UnitOfWork runs a callback in a transaction that commits when the callback
// succeeds and rolls back otherwise. Calls nested under the same context join
// the outer transaction; a failure anywhere rolls the whole of it back.
// Begin, commit and rollback errors are classified, so a deadlock reported at
// commit comes back transient.
type UnitOfWork[RepositoryProvider any] interface {
	ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) error
}

func NewUnitOfWork[RepositoryProvider any](
	pool ConnectionPool,
	builder RepositoryProviderBuilder[RepositoryProvider],
) UnitOfWork[RepositoryProvider] {
	return &unitOfWork[RepositoryProvider]{
		transactions: sharedpool.NewPool[context.Context, *sharedTransaction](
			func(ctx context.Context) (*sharedTransaction, sharedpool.WrappedValueReleaseFunc, error) {
				return beginShared(ctx, pool)
			},
		),
		builder: builder,
	}
}

type unitOfWork[RepositoryProvider any] struct {
	transactions *sharedpool.Pool[context.Context, *sharedTransaction]
	builder      RepositoryProviderBuilder[RepositoryProvider]
}

func (uow unitOfWork[RepositoryProvider]) ExecuteWithUnitOfWork(ctx context.Context, callback func(provider RepositoryProvider) error) (err error) {
	shared, err := uow.transactions.Get(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, shared.Release())
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			shared.Value().markRollbackOnly()
		}
	}()

	return callback(uow.builder(shared.Value().tx))
}

// sharedTransaction is finished by the last participant to release it. Any
// failed participant turns the outcome into a rollback.
type sharedTransaction struct {
	conn         TransactionalConnection
	tx           Transaction
	rollbackOnly bool
}

func beginShared(ctx context.Context, pool ConnectionPool) (*sharedTransaction, sharedpool.WrappedValueReleaseFunc, error) {
	conn, err := pool.TransactionalConnection(ctx)
	if err != nil {
		return nil, nil, err
	}

	tx, err := conn.BeginTransaction(ctx, nil)
	if err != nil {
		return nil, nil, errors.Join(liberrors.Wrap(Classify(err), "begin transaction"), conn.Close())
	}

	shared := &sharedTransaction{conn: conn, tx: tx}
	return shared, shared.finish, nil
}

func (st *sharedTransaction) markRollbackOnly() {
	st.rollbackOnly = true
}

func (st *sharedTransaction) finish() error {
	var err error
	if st.rollbackOnly {
		err = liberrors.Wrap(Classify(st.tx.Rollback()), "rollback")
	} else {
		err = liberrors.Wrap(Classify(st.tx.Commit()), "commit")
	}
	return errors.Join(err, st.conn.Close())
}
