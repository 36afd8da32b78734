// Package uiloop runs funcs on a single dedicated goroutine, the way a GUI
// toolkit runs work on its event thread.
package uiloop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned when submitting to a loop that has stopped.
var ErrClosed = errors.New("uiloop: closed")

// PanicError carries a panic recovered while running a func on the loop.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic on ui loop: %v", e.Value)
}

type task struct {
	fn   func()
	done chan error // nil for Post
}

// Loop executes submitted funcs in FIFO order on one goroutine.
type Loop struct {
	tasks   chan task
	closed  chan struct{}
	running atomic.Bool
	log     *zap.Logger
}

func New(queueSize int, log *zap.Logger) *Loop {
	return &Loop{
		tasks:  make(chan task, queueSize),
		closed: make(chan struct{}),
		log:    log,
	}
}

// Run processes tasks until ctx is done. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("uiloop: Run called twice")
	}
	defer close(l.closed)
	for {
		select {
		case t := <-l.tasks:
			err := l.exec(t.fn)
			if t.done != nil {
				t.done <- err
			} else if err != nil {
				l.log.Error("posted task failed", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (l *Loop) exec(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Value: rec, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// Invoke runs fn on the loop and waits for it to return. A panic in fn is
// returned as a *PanicError. If ctx is cancelled first, Invoke returns
// ctx.Err() and fn still runs later in submission order. Invoke must not be
// called from the loop itself.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan error, 1)
	select {
	case l.tasks <- task{fn: fn, done: done}:
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-l.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post submits fn without waiting for it.
func (l *Loop) Post(fn func()) error {
	select {
	case l.tasks <- task{fn: fn}:
		return nil
	case <-l.closed:
		return ErrClosed
	}
}
