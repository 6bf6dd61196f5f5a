// Package runlock keeps reconciliation runs from overlapping.
//
// The Redis locker coordinates several API replicas; the local locker covers
// a single process.
package runlock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("run lock is held")

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires the run lock without waiting.
type Locker interface {
	TryLock(ctx context.Context) (Unlock, error)
}

// Local is an in-process Locker.
type Local struct {
	mu sync.Mutex
}

// NewLocal creates an unlocked Local.
func NewLocal() *Local {
	return &Local{}
}

// TryLock acquires the lock or returns ErrLocked.
func (l *Local) TryLock(ctx context.Context) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
