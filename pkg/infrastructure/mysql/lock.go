package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrLockTimeout   = errors.New("lock timed out")
	ErrLockNotLocked = errors.New("lock not locked")
	ErrLockNotFound  = errors.New("lock not found")
)

type Lock interface {
	Lock() error
	Unlock() error
}

func NewLock(ctx context.Context, lockName string, timeout time.Duration, client ClientContext) Lock {
	return &lock{
		ctx:      ctx,
		lockName: lockName,
		timeout:  timeout,
		client:   client,
	}
}

type lock struct {
	ctx      context.Context
	lockName string
	timeout  time.Duration
	client   ClientContext
}

// Lock names are scoped to the current database and cut to the 64 chars
// MySQL allows.
func (l lock) Lock() error {
	const sqlQuery = "SELECT GET_LOCK(SUBSTRING(CONCAT(?, '.', DATABASE()), 1, 64), ?)"
	var result sql.NullInt32
	err := l.client.GetContext(l.ctx, &result, sqlQuery, l.lockName, int(l.timeout.Seconds()))
	if err != nil {
		return errors.WithStack(err)
	}
	if !result.Valid || result.Int32 == 0 {
		return errors.Wrap(ErrLockTimeout, l.lockName)
	}
	return nil
}

func (l lock) Unlock() error {
	const sqlQuery = "SELECT RELEASE_LOCK(SUBSTRING(CONCAT(?, '.', DATABASE()), 1, 64))"
	var result sql.NullInt32
	// released even when the caller's context is already done
	err := l.client.GetContext(context.WithoutCancel(l.ctx), &result, sqlQuery, l.lockName)
	if err != nil {
		return errors.WithStack(err)
	}
	if !result.Valid {
		return errors.Wrap(ErrLockNotFound, l.lockName)
	}
	if result.Int32 == 0 {
		return errors.Wrap(ErrLockNotLocked, l.lockName)
	}
	return nil
}
