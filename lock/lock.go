// Package lock provides per-key mutual exclusion with bounded waiting.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotAcquired = errors.New("lock not acquired")

type Locker interface {
	// Acquire blocks until key is held, the acquire timeout passes or ctx
	// is done. The returned release must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type entry struct {
	slot chan struct{}
	refs int
}

type memoryLocker struct {
	mutex   sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

// NewMemory returns a process local Locker.
func NewMemory(timeout time.Duration) Locker {
	return &memoryLocker{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

func (l *memoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mutex.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mutex.Unlock()

	select {
	case e.slot <- struct{}{}:
	default:
		if err := l.wait(ctx, e); err != nil {
			l.drop(key, e)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.slot
			l.drop(key, e)
		})
	}, nil
}

// wait blocks for the slot of a held key. A non-positive timeout does not
// wait at all.
func (l *memoryLocker) wait(ctx context.Context, e *entry) error {
	if l.timeout <= 0 {
		return ErrNotAcquired
	}

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *memoryLocker) drop(key string, e *entry) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
