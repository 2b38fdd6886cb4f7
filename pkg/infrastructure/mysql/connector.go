package mysql

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	// include mysql driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	liberr "gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

var errNotOpened = errors.New("mysql connector is not opened")

type Connector interface {
	// Open keeps pinging the server until it answers or cfg.ConnectTimeout
	// runs out.
	Open(ctx context.Context, dsn string, cfg Config) error
	Close() error

	TransactionalClient() TransactionalClient
}

type Config struct {
	MaxConnections        int
	ConnectionMaxLifeTime time.Duration
	ConnectionMaxIdleTime time.Duration
	// ConnectTimeout bounds the wait for the server on Open; zero pings once.
	ConnectTimeout time.Duration
}

func NewConnector() Connector {
	return &connector{}
}

type connector struct {
	db *sqlx.DB
}

func (c *connector) Open(ctx context.Context, dsn string, cfg Config) error {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return errors.Wrap(err, "open mysql")
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnectionMaxLifeTime)
	db.SetConnMaxIdleTime(cfg.ConnectionMaxIdleTime)

	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(pingBackOff(cfg.ConnectTimeout), ctx))
	if err != nil {
		return errors.Wrap(Classify(liberr.Join(err, db.Close())), "ping mysql")
	}

	c.db = db
	return nil
}

func (c *connector) Close() error {
	if c.db == nil {
		return errNotOpened
	}
	return errors.WithStack(c.db.Close())
}

func (c *connector) TransactionalClient() TransactionalClient {
	return NewTransactionalClient(c.db)
}

func pingBackOff(timeout time.Duration) backoff.BackOff {
	if timeout <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	b.MaxInterval = 5 * time.Second
	return b
}
