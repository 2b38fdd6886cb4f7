package io

import (
	"io"
	"sync"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/common/errors"
)

type CloserFunc func() error

func (f CloserFunc) Close() error {
	return f()
}

type MultiCloser interface {
	io.Closer
	AddCloser(closer io.Closer)
	AddFunc(f func() error)
}

func NewMultiCloser() MultiCloser {
	return &multiCloser{}
}

// multiCloser closes in reverse registration order, so resources opened later
// (consumers, channels) go before the ones they depend on (connections, pools).
type multiCloser struct {
	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

func (m *multiCloser) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	for i := len(m.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, m.closers[i].Close())
	}
	return err
}

func (m *multiCloser) AddCloser(closer io.Closer) {
	m.mu.Lock()
	m.closers = append(m.closers, closer)
	m.mu.Unlock()
}

func (m *multiCloser) AddFunc(f func() error) {
	m.AddCloser(CloserFunc(f))
}
