package mysql

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// ClientContext is the query surface shared by *sqlx.DB, *sqlx.Conn and
// *sqlx.Tx. Repositories depend on it only, so they run the same way inside
// and outside a unit of work.
type ClientContext interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type Transaction interface {
	ClientContext
	Commit() error
	Rollback() error
}

// TransactionalConnection pins a single session. Named locks and
// transactions opened on it belong to that session.
type TransactionalConnection interface {
	ClientContext
	BeginTransaction(ctx context.Context, opts *sql.TxOptions) (Transaction, error)
	Close() error
}

type TransactionalClient interface {
	ClientContext
	Connection(ctx context.Context) (TransactionalConnection, error)
}

func NewTransactionalClient(db *sqlx.DB) TransactionalClient {
	return &transactionalClient{DB: db}
}

type transactionalClient struct {
	*sqlx.DB
}

func (client *transactionalClient) Connection(ctx context.Context) (TransactionalConnection, error) {
	conn, err := client.Connx(ctx)
	if err != nil {
		return nil, errors.Wrap(Classify(err), "acquire connection")
	}
	return &transactionalConnection{Conn: conn}, nil
}

type transactionalConnection struct {
	*sqlx.Conn
}

func (conn *transactionalConnection) BeginTransaction(ctx context.Context, opts *sql.TxOptions) (Transaction, error) {
	tx, err := conn.BeginTxx(ctx, opts)
	if err != nil {
		return nil, Classify(err)
	}
	return tx, nil
}
