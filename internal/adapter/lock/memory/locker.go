// Package memory implements keyed advisory locks for a single-instance deployment.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/simaogato/tokenledger-backend/internal/domain"
)

// Locker is a table of per-key mutexes. Entries are dropped once nobody holds
// or waits for them, so the table only grows with concurrent keys.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker creates an empty lock table
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// TryLock implements domain.WalletLocker. It never waits.
func (l *Locker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.locks[key]
	if e == nil {
		e = &entry{}
		l.locks[key] = e
	}
	if !e.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, key)
	}
	e.refs++

	return l.releaser(key, e), nil
}

// Lock blocks until key is free
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	e := l.locks[key]
	if e == nil {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return l.releaser(key, e)
}

func (l *Locker) releaser(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, key)
			}
			l.mu.Unlock()
		})
	}
}
