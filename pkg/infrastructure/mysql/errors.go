package mysql

import (
	"database/sql/driver"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

func IsDuplicateEntry(err error) bool {
	return hasErrorNumber(err, errDuplicateEntry)
}

// Classify marks errors worth retrying as transient: lock wait timeouts,
// deadlocks and broken connections. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || liberr.KindOf(err) != liberr.KindUnknown {
		return err
	}
	if hasErrorNumber(err, errLockWaitTimeout) ||
		hasErrorNumber(err, errDeadlock) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return liberr.Transient(err)
	}
	return err
}

func hasErrorNumber(err error, number uint16) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == number
}
