package inboxmigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func newVersion1762900020(client mysql.ClientContext) migrator.Migration {
	return &version1762900020{client: client}
}

type version1762900020 struct {
	client mysql.ClientContext
}

func (v version1762900020) Version() int64 {
	return 1762900020
}

func (v version1762900020) Description() string {
	return "Create 'inbox_dead_letter' table"
}

func (v version1762900020) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE inbox_dead_letter
		(
		    event_id         VARBINARY(128)  NOT NULL,
		    event_type       VARBINARY(128)  NOT NULL,
		    aggregate_id     VARBINARY(128)  NOT NULL,
		    payload          MEDIUMBLOB      NOT NULL,
		    failure_reason   TEXT            NOT NULL,
		    failure_kind     VARBINARY(16)   NOT NULL,
		    attempt_count    INT             NOT NULL,
		    first_failed_at  DATETIME(6)     NOT NULL,
		    last_attempt_at  DATETIME(6)     NOT NULL,
		    status           VARBINARY(16)   NOT NULL,
		    replayed_at      DATETIME(6)     NULL,
		    PRIMARY KEY (event_id),
		    KEY idx_status_last_attempt (status, last_attempt_at)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
