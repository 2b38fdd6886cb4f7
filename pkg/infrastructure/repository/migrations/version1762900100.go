package repositorymigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func newVersion1762900100(client mysql.ClientContext) migrator.Migration {
	return &version1762900100{client: client}
}

type version1762900100 struct {
	client mysql.ClientContext
}

func (v version1762900100) Version() int64 {
	return 1762900100
}

func (v version1762900100) Description() string {
	return "Create 'person' table"
}

func (v version1762900100) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE person
		(
		    person_id   VARBINARY(128)  NOT NULL,
		    name        VARCHAR(255)    NOT NULL,
		    email       VARCHAR(255)    NOT NULL,
		    position    VARCHAR(255)    NOT NULL,
		    version     BIGINT          NOT NULL DEFAULT 0,
		    updated_at  DATETIME(6)     NOT NULL,
		    PRIMARY KEY (person_id)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
