package world

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned by TryRLock when the read lock could not be
// taken in time.
var ErrLockTimeout = errors.New("world lock: timed out")

const writeWeight = 1 << 30

// Lock is a read-write lock whose acquisitions can be bounded by a context or
// a timeout. Waiting writers block new readers. It is not reentrant.
type Lock struct {
	sem       *semaphore.Weighted
	writeHeld atomic.Bool
}

func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(writeWeight)}
}

// Lock takes the write side.
func (l *Lock) Lock(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, writeWeight); err != nil {
		return err
	}
	l.writeHeld.Store(true)
	return nil
}

func (l *Lock) Unlock() {
	l.writeHeld.Store(false)
	l.sem.Release(writeWeight)
}

// WriteHeld reports whether the write side is held. Only the simulation
// goroutine takes the write side, so for it this means "held by me".
func (l *Lock) WriteHeld() bool { return l.writeHeld.Load() }

func (l *Lock) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// TryRLock takes the read side, waiting at most timeout.
func (l *Lock) TryRLock(timeout time.Duration) error {
	if l.sem.TryAcquire(1) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrLockTimeout
	}
	return nil
}

func (l *Lock) RUnlock() {
	l.sem.Release(1)
}
