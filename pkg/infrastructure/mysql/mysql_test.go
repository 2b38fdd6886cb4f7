package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

func newMock(t *testing.T) (TransactionalClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewTransactionalClient(sqlx.NewDb(db, "mysql")), mock
}

type provider struct {
	client ClientContext
}

func (p provider) touch(ctx context.Context, id int) error {
	_, err := p.client.ExecContext(ctx, "UPDATE person SET version = version + 1 WHERE id = ?", id)
	return err
}

func newUnitOfWork(client TransactionalClient) UnitOfWork[provider] {
	return NewUnitOfWork[provider](NewConnectionPool(client), func(client ClientContext) provider {
		return provider{client: client}
	})
}

func TestUnitOfWork(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(p provider) error {
			return p.touch(context.Background(), 1)
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		failure := errors.New("outbox append failed")
		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(p provider) error {
			if err := p.touch(context.Background(), 1); err != nil {
				return err
			}
			return failure
		})

		assert.ErrorIs(t, err, failure)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(provider) error {
			panic("boom")
		})

		assert.ErrorContains(t, err, "panic: boom")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls share one transaction", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE person").WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ctx := context.Background()
		uow := newUnitOfWork(client)
		err := uow.ExecuteWithUnitOfWork(ctx, func(outer provider) error {
			if err := outer.touch(ctx, 1); err != nil {
				return err
			}
			return uow.ExecuteWithUnitOfWork(ctx, func(inner provider) error {
				return inner.touch(ctx, 2)
			})
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock at commit is transient", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(&mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"})

		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(p provider) error {
			return p.touch(context.Background(), 1)
		})

		require.Error(t, err)
		assert.True(t, liberr.IsTransient(err))
		assert.ErrorContains(t, err, "commit")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock wait timeout at begin is transient", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin().WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

		called := false
		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(provider) error {
			called = true
			return nil
		})

		require.Error(t, err)
		assert.False(t, called)
		assert.True(t, liberr.IsTransient(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key at commit stays unclassified", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

		err := newUnitOfWork(client).ExecuteWithUnitOfWork(context.Background(), func(provider) error {
			return nil
		})

		require.Error(t, err)
		assert.False(t, liberr.IsTransient(err))
		assert.True(t, IsDuplicateEntry(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested failure rolls back outer work", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE person").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()

		ctx := context.Background()
		uow := newUnitOfWork(client)
		err := uow.ExecuteWithUnitOfWork(ctx, func(outer provider) error {
			if err := outer.touch(ctx, 1); err != nil {
				return err
			}
			innerErr := uow.ExecuteWithUnitOfWork(ctx, func(provider) error {
				return errors.New("inner failed")
			})
			assert.Error(t, innerErr)
			return nil
		})

		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLocker(t *testing.T) {
	t.Run("holds lock around callback", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectQuery("SELECT GET_LOCK").WithArgs("outbox_janitor", 5).
			WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(1))
		mock.ExpectQuery("SELECT RELEASE_LOCK").WithArgs("outbox_janitor").
			WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(1))

		called := false
		err := NewLocker(NewConnectionPool(client)).ExecuteWithLock(context.Background(), "outbox_janitor", 5*time.Second, func() error {
			called = true
			return nil
		})

		assert.NoError(t, err)
		assert.True(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("timeout skips callback", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectQuery("SELECT GET_LOCK").WithArgs("outbox_janitor", 1).
			WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(0))

		called := false
		err := NewLocker(NewConnectionPool(client)).ExecuteWithLock(context.Background(), "outbox_janitor", time.Second, func() error {
			called = true
			return nil
		})

		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error is returned after release", func(t *testing.T) {
		client, mock := newMock(t)
		mock.ExpectQuery("SELECT GET_LOCK").WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(1))
		mock.ExpectQuery("SELECT RELEASE_LOCK").WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(1))

		failure := errors.New("replay failed")
		err := NewLocker(NewConnectionPool(client)).ExecuteWithLock(context.Background(), "deadletter_replay_E-1", time.Second, func() error {
			return failure
		})

		assert.ErrorIs(t, err, failure)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClassify(t *testing.T) {
	for name, tc := range map[string]struct {
		err       error
		transient bool
	}{
		"lock wait timeout": {err: &mysql.MySQLError{Number: 1205}, transient: true},
		"deadlock":          {err: errors.Wrap(&mysql.MySQLError{Number: 1213}, "update employee"), transient: true},
		"bad connection":    {err: driver.ErrBadConn, transient: true},
		"invalid conn":      {err: mysql.ErrInvalidConn, transient: true},
		"syntax error":      {err: &mysql.MySQLError{Number: 1064}},
		"duplicate entry":   {err: &mysql.MySQLError{Number: 1062}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.transient, liberr.IsTransient(Classify(tc.err)))
		})
	}

	assert.Nil(t, Classify(nil))
	permanent := liberr.Permanent(&mysql.MySQLError{Number: 1213})
	assert.True(t, liberr.IsPermanent(Classify(permanent)))

	assert.True(t, IsDuplicateEntry(errors.WithStack(&mysql.MySQLError{Number: 1062})))
	assert.False(t, IsDuplicateEntry(&mysql.MySQLError{Number: 1213}))
}
