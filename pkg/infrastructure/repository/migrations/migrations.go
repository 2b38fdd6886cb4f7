package repositorymigrations

import (
	"context"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	libmigrator "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

// NewPersonMigrator migrates the person service's own tables.
func NewPersonMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
) (libmigrator.Migrator, io.CloserFunc, error) {
	return libmigrator.NewPooledMigrator(ctx, pool, logger, "person", newVersion1762900100)
}

// NewEmployeeMigrator migrates the employee service's own tables.
func NewEmployeeMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
) (libmigrator.Migrator, io.CloserFunc, error) {
	return libmigrator.NewPooledMigrator(ctx, pool, logger, "employee", newVersion1762900200)
}
