package upload

import (
	"context"
	"sync"
)

// locker hands out one exclusive lock per upload ID. Entries are reference
// counted and dropped once nobody holds or waits for them.
type locker struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	ch   chan struct{}
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[string]*idLock)}
}

// Lock blocks until the lock for id is held or ctx is done.
// The returned func releases the lock and is safe to call more than once.
func (l *locker) Lock(ctx context.Context, id string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &idLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(id, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(id, lk)
		})
	}, nil
}

func (l *locker) release(id string, lk *idLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

// size returns the number of tracked IDs.
func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
