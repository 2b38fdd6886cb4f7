package inboxmigrations

import (
	"context"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	libmigrator "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func NewInboxMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
) (libmigrator.Migrator, io.CloserFunc, error) {
	return libmigrator.NewPooledMigrator(ctx, pool, logger, "inbox", builderFunctions...)
}

var builderFunctions = []libmigrator.MigrationBuilder{
	newVersion1762900010,
	newVersion1762900020,
}
