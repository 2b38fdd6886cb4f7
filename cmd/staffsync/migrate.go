package main

import (
	"context"

	"github.com/spf13/cobra"

	applogging "gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/io"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/config"
	inboxmigrations "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/inbox/migrations"
	libmigrator "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
	outboxmigrations "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/outbox/migrations"
	repositorymigrations "gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/repository/migrations"
)

type migratorBuilder func(ctx context.Context, pool mysql.ConnectionPool, logger applogging.Logger) (libmigrator.Migrator, io.CloserFunc, error)

func newMigrateCommand(load func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "producer",
		Short: "Migrate the person table and its outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), load(),
				repositorymigrations.NewPersonMigrator,
				func(ctx context.Context, pool mysql.ConnectionPool, logger applogging.Logger) (libmigrator.Migrator, io.CloserFunc, error) {
					return outboxmigrations.NewOutboxMigrator(ctx, pool, logger, outboxTransport)
				},
			)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "consumer",
		Short: "Migrate the employee table, the ledger and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), load(),
				repositorymigrations.NewEmployeeMigrator,
				inboxmigrations.NewInboxMigrator,
			)
		},
	})

	return cmd
}

func migrate(ctx context.Context, cfg *config.Config, builders ...migratorBuilder) (err error) {
	c, err := newContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, c.Close())
	}()

	for _, builder := range builders {
		if err = runMigrator(ctx, c, builder); err != nil {
			return err
		}
	}
	c.logger.Info("migrations applied")
	return nil
}

func runMigrator(ctx context.Context, c *container, builder migratorBuilder) (err error) {
	migrator, release, err := builder(ctx, c.pool, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, release())
	}()
	return migrator.Migrate()
}
