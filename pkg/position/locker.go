package position

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker serializes work per partition. Two resolvers probing the same
// partition concurrently can both see a position as free; holding the
// partition lock across resolve and apply closes that window.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*partitionLock
}

type partitionLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*partitionLock)}
}

// Lock blocks until the partition is free or ctx is done. The returned
// func releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, p Partition) (func(), error) {
	key := p.Key()

	l.mu.Lock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &partitionLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	if err := pl.sem.Acquire(ctx, 1); err != nil {
		l.release(key, pl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			pl.sem.Release(1)
			l.release(key, pl)
		})
	}, nil
}

func (l *Locker) release(key string, pl *partitionLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len is the number of partitions currently held or waited on.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
