package outboxmigrations

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func newVersion1762198457(client mysql.ClientContext, transport string) migrator.Migration {
	return &version1762198457{
		client:    client,
		transport: transport,
	}
}

type version1762198457 struct {
	client    mysql.ClientContext
	transport string
}

func (v version1762198457) Version() int64 {
	return 1762198457
}

func (v version1762198457) Description() string {
	return fmt.Sprintf("Create 'outbox_%s_event' table", v.transport)
}

func (v version1762198457) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE outbox_%s_event
		(
		    seq              BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		    event_id         VARBINARY(64)   NOT NULL,
		    event_type       VARBINARY(128)  NOT NULL,
		    aggregate_id     VARBINARY(128)  NOT NULL,
		    payload          MEDIUMBLOB      NOT NULL,
		    status           VARBINARY(16)   NOT NULL,
		    attempts         INT             NOT NULL DEFAULT 0,
		    last_error       TEXT            NOT NULL,
		    next_attempt_at  DATETIME(6)     NOT NULL,
		    claimed_at       DATETIME(6)     NULL,
		    created_at       DATETIME(6)     NOT NULL,
		    published_at     DATETIME(6)     NULL,
		    PRIMARY KEY (seq),
		    UNIQUE KEY uk_event_id (event_id),
		    KEY idx_status_next_attempt (status, next_attempt_at),
		    KEY idx_aggregate_seq (aggregate_id, seq, status)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`, v.transport))
	return errors.WithStack(err)
}
