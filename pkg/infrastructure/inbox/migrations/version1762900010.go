package inboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func newVersion1762900010(client mysql.ClientContext) migrator.Migration {
	return &version1762900010{client: client}
}

type version1762900010 struct {
	client mysql.ClientContext
}

func (v version1762900010) Version() int64 {
	return 1762900010
}

func (v version1762900010) Description() string {
	return "Create 'inbox_ledger' table"
}

func (v version1762900010) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE inbox_ledger
		(
		    event_id      VARBINARY(64)   NOT NULL,
		    aggregate_id  VARBINARY(128)  NOT NULL,
		    outcome       VARBINARY(16)   NOT NULL,
		    outcome_hash  VARBINARY(64)   NOT NULL,
		    attempts      INT             NOT NULL,
		    processed_at  DATETIME(6)     NOT NULL,
		    PRIMARY KEY (event_id),
		    KEY idx_aggregate (aggregate_id)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
