package migrator

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

const migrationLockTimeout = 5 * time.Second

type Migration interface {
	Version() int64
	Description() string
	Up(ctx context.Context) error
}

// Migrator applies migrations in version order under a MySQL named lock,
// skipping versions already recorded in the prefix's migrations table.
type Migrator interface {
	Migrate() error
}

// NewMigrator binds a migration set to client. The set is rejected as a
// whole when a pending version is older than the last applied one.
func NewMigrator(
	ctx context.Context,
	client mysql.ClientContext,
	tablePrefix string,
	logger logging.Logger,
	migrations []Migration,
) (Migrator, error) {
	if len(migrations) == 0 {
		return nil, errors.New("migrations must not be empty")
	}
	slices.SortFunc(migrations, func(l, r Migration) int {
		return cmp.Compare(l.Version(), r.Version())
	})
	return &migrator{
		ctx:        ctx,
		lock:       mysql.NewLock(ctx, "migration_"+tablePrefix, migrationLockTimeout, client),
		history:    newHistory(tablePrefix, client),
		logger:     logger,
		migrations: migrations,
		now:        time.Now,
	}, nil
}

type migrator struct {
	ctx context.Context

	lock    mysql.Lock
	history history
	logger  logging.Logger
	now     func() time.Time

	migrations []Migration
}

func (m *migrator) Migrate() (err error) {
	err = m.lock.Lock()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = liberr.Join(err, fmt.Errorf("panic: %v", r))
		}
		err = liberr.Join(err, m.lock.Unlock())
	}()

	err = m.history.ensure(m.ctx)
	if err != nil {
		return err
	}
	applied, lastVersion, err := m.history.applied(m.ctx)
	if err != nil {
		return err
	}

	pending := make([]Migration, 0, len(m.migrations))
	for _, migration := range m.migrations {
		if applied[migration.Version()] {
			continue
		}
		if migration.Version() < lastVersion {
			return errors.Errorf("migration version %v less than last applied %v", migration.Version(), lastVersion)
		}
		pending = append(pending, migration)
	}
	if len(pending) == 0 {
		m.logger.WithField("version", lastVersion).Info("schema is up to date")
		return nil
	}

	for _, migration := range pending {
		log := m.logger.WithFields(logging.Fields{
			"version":     migration.Version(),
			"description": migration.Description(),
		})
		start := m.now()
		err = migration.Up(m.ctx)
		if err != nil {
			return errors.Wrapf(err, "migration %d", migration.Version())
		}
		err = m.history.record(m.ctx, migration, m.now())
		if err != nil {
			return err
		}
		log.WithField("elapsed", m.now().Sub(start).String()).Info("migration applied")
	}
	return nil
}
