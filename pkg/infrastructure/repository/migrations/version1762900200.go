package repositorymigrations

import (
	"context"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/migrator"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

func newVersion1762900200(client mysql.ClientContext) migrator.Migration {
	return &version1762900200{client: client}
}

type version1762900200 struct {
	client mysql.ClientContext
}

func (v version1762900200) Version() int64 {
	return 1762900200
}

func (v version1762900200) Description() string {
	return "Create 'employee' table"
}

func (v version1762900200) Up(ctx context.Context) error {
	_, err := v.client.ExecContext(ctx, `
		CREATE TABLE employee
		(
		    person_id       VARBINARY(128)  NOT NULL,
		    name            VARCHAR(255)    NOT NULL,
		    email           VARCHAR(255)    NOT NULL,
		    position        VARCHAR(255)    NOT NULL,
		    source_version  BIGINT          NOT NULL DEFAULT 0,
		    updated_at      DATETIME(6)     NOT NULL,
		    PRIMARY KEY (person_id)
		)
		    ENGINE = InnoDB
		    CHARACTER SET = utf8mb4
		    COLLATE utf8mb4_unicode_ci
	`)
	return errors.WithStack(err)
}
