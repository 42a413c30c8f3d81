// Package lock serializes writers per key: one cart per owner, one order per
// id. Nothing here takes a global lock.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrTimeout = errors.New("lock: timed out waiting for key")

// Locker acquires an exclusive lock on key. The returned unlock is safe to
// call more than once. Lock never waits past ctx.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are reference counted and
// dropped when the last waiter leaves.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

func NewLocal() *Local {
	return &Local{keys: make(map[string]*entry)}
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.leave(key, e)
		return nil, errors.Join(ErrTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.leave(key, e)
		})
	}, nil
}

func (l *Local) leave(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func CartKey(ownerID string) string  { return "cart:" + ownerID }
func OrderKey(orderID string) string { return "order:" + orderID }
