package mysql

import (
	"context"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/sharedpool"
)

// ConnectionPool hands out one session per context, so a named lock and a
// unit of work started with the same context run on the same session. The
// session goes back to the driver when its last holder closes it.
type ConnectionPool interface {
	TransactionalConnection(ctx context.Context) (TransactionalConnection, error)
}

func NewConnectionPool(client TransactionalClient) ConnectionPool {
	return &connectionPool{
		sessions: sharedpool.NewPool[context.Context, TransactionalConnection](
			func(ctx context.Context) (TransactionalConnection, sharedpool.WrappedValueReleaseFunc, error) {
				conn, err := client.Connection(ctx)
				if err != nil {
					return nil, nil, err
				}
				return conn, func() error {
					return Classify(conn.Close())
				}, nil
			},
		),
	}
}

type connectionPool struct {
	sessions *sharedpool.Pool[context.Context, TransactionalConnection]
}

func (p *connectionPool) TransactionalConnection(ctx context.Context) (TransactionalConnection, error) {
	session, err := p.sessions.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &pooledConnection{
		TransactionalConnection: session.Value(),
		release:                 session.Release,
	}, nil
}

// pooledConnection releases its share of the session instead of closing it.
type pooledConnection struct {
	TransactionalConnection
	release func() error
}

func (conn *pooledConnection) Close() error {
	return conn.release()
}
