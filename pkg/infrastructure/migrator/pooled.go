package migrator

import (
	"context"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

// MigrationBuilder binds a migration to the connection the migrator runs on.
type MigrationBuilder func(client mysql.ClientContext) Migration

// NewPooledMigrator takes a connection from pool and builds a migrator for a
// migration set recorded in the <tablePrefix>_migrations table. Call release
// after Migrate.
func NewPooledMigrator(
	ctx context.Context,
	pool mysql.ConnectionPool,
	logger logging.Logger,
	tablePrefix string,
	builders ...MigrationBuilder,
) (migrator Migrator, release io.CloserFunc, err error) {
	conn, err := pool.TransactionalConnection(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, conn.Close())
		}
	}()

	migrations := make([]Migration, 0, len(builders))
	for _, builder := range builders {
		migrations = append(migrations, builder(conn))
	}

	migrator, err = NewMigrator(ctx, conn, tablePrefix, logger.WithField("migrator", tablePrefix), migrations)
	if err != nil {
		return nil, nil, err
	}
	return migrator, conn.Close, nil
}
