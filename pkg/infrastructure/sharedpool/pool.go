// Package sharedpool shares one value per key between nested users, e.g. one
// transaction per request context, and releases it when the last user is done.
package sharedpool

import (
	"sync"

	"github.com/pkg/errors"
)

var ErrValueNotFound = errors.New("value not found in pool")

type WrappedValueReleaseFunc func() error

type ValueFactory[K comparable, V any] func(key K) (V, WrappedValueReleaseFunc, error)

type SharedValue[K comparable, V any] struct {
	v V

	key          K
	count        int
	releaseValue WrappedValueReleaseFunc
	pool         *Pool[K, V]
}

func (v *SharedValue[K, V]) Value() V {
	return v.v
}

// Release drops one reference; the value is released with the last one.
func (v *SharedValue[K, V]) Release() error {
	return v.pool.release(v.key)
}

func NewPool[K comparable, V any](factory ValueFactory[K, V]) *Pool[K, V] {
	return &Pool[K, V]{
		valueFactory: factory,
		pool:         make(map[K]*SharedValue[K, V]),
	}
}

type Pool[K comparable, V any] struct {
	valueFactory ValueFactory[K, V]

	mu   sync.Mutex
	pool map[K]*SharedValue[K, V]
}

func (p *Pool[K, V]) Get(key K) (*SharedValue[K, V], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sv, ok := p.pool[key]; ok {
		sv.count++
		return sv, nil
	}

	v, release, err := p.valueFactory(key)
	if err != nil {
		return nil, err
	}
	sv := &SharedValue[K, V]{
		v:            v,
		key:          key,
		count:        1,
		releaseValue: release,
		pool:         p,
	}
	p.pool[key] = sv
	return sv, nil
}

func (p *Pool[K, V]) release(key K) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	sv, ok := p.pool[key]
	if !ok {
		return errors.WithStack(ErrValueNotFound)
	}
	if sv.count > 1 {
		sv.count--
		return nil
	}
	delete(p.pool, key)
	if sv.releaseValue == nil {
		return nil
	}
	return sv.releaseValue()
}
