package outboxmigrations

import (
	"context"
	"fmt"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	libmigrator "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func NewOutboxMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
	transport string,
) (libmigrator.Migrator, io.CloserFunc, error) {
	if transport == "" {
		panic("transport cannot be empty")
	}

	builders := make([]libmigrator.MigrationBuilder, 0, len(builderFunctions))
	for _, builder := range builderFunctions {
		builders = append(builders, func(client mysql.ClientContext) libmigrator.Migration {
			return builder(client, transport)
		})
	}
	return libmigrator.NewPooledMigrator(ctx, pool, logger, fmt.Sprintf("outbox_%s", transport), builders...)
}

var builderFunctions = []func(client mysql.ClientContext, transport string) libmigrator.Migration{
	newVersion1762198457,
}
