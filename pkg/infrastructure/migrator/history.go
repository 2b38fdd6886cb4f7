package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

// history is the <prefix>_migrations table, one row per applied version.
type history struct {
	table  string
	client mysql.ClientContext
}

func newHistory(tablePrefix string, client mysql.ClientContext) history {
	return history{
		table:  tablePrefix + "_migrations",
		client: client,
	}
}

func (h history) ensure(ctx context.Context) error {
	_, err := h.client.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s
		(
		    version     BIGINT   NOT NULL,
		    description TEXT     NOT NULL,
		    applied_at  DATETIME NOT NULL,
		    PRIMARY KEY (version)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`, h.table))
	return errors.Wrapf(err, "create %s", h.table)
}

// applied returns the recorded versions and the highest of them.
func (h history) applied(ctx context.Context) (map[int64]bool, int64, error) {
	var versions []int64
	err := h.client.SelectContext(ctx, &versions, fmt.Sprintf(`SELECT version FROM %s ORDER BY version`, h.table))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "read %s", h.table)
	}

	result := make(map[int64]bool, len(versions))
	var last int64
	for _, version := range versions {
		result[version] = true
		last = max(last, version)
	}
	return result, last, nil
}

func (h history) record(ctx context.Context, migration Migration, appliedAt time.Time) error {
	_, err := h.client.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (version, description, applied_at) VALUES (?, ?, ?)`, h.table),
		migration.Version(), migration.Description(), appliedAt.UTC(),
	)
	return errors.Wrapf(err, "record migration %d", migration.Version())
}
