// Package hdtimer provides calibrated sleeps with sub-millisecond accuracy.
//
// A sleep is split into three phases by the remaining time r: an OS sleep of
// r-sleepPrecision when r >= 2*sleepPrecision, then scheduler yields while r is
// larger than the worst yield seen so far, then a busy spin on the monotonic
// clock. Context cancellation is checked in every phase.
package hdtimer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInterrupted is returned (wrapped) when the caller's context is cancelled
// during a sleep or while reacquiring a released lock.
var ErrInterrupted = errors.New("hdtimer: interrupted")

const samples = 11

// WriteLocker is a lock that WaitReleasing may give up while waiting.
type WriteLocker interface {
	// WriteHeld reports whether the write side is currently held.
	WriteHeld() bool
	Unlock()
	Lock(ctx context.Context) error
}

// Calibration holds the measured precision of the OS primitives.
type Calibration struct {
	SleepPrecision time.Duration
	WaitPrecision  time.Duration
}

// Calibrate measures the median duration of the shortest possible sleep and
// the shortest possible guarded wait.
func Calibrate() Calibration {
	return Calibration{
		SleepPrecision: median(func() { time.Sleep(1) }),
		WaitPrecision:  median(guardedWait),
	}
}

func guardedWait() {
	var mu sync.Mutex
	mu.Lock()
	t := time.NewTimer(1)
	done := make(chan struct{})
	select {
	case <-t.C:
	case <-done:
	}
	mu.Unlock()
}

func median(fn func()) time.Duration {
	tests := make([]time.Duration, samples)
	for i := range tests {
		t1 := time.Now()
		fn()
		tests[i] = time.Since(t1)
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i] < tests[j] })
	d := tests[samples/2]
	if d <= 0 {
		d = time.Nanosecond
	}
	return d
}

// Timer performs high precision sleeps. It is safe for concurrent use.
type Timer struct {
	mu               sync.RWMutex
	cal              Calibration
	worstYield       atomic.Int64
	lastUse          atomic.Int64 // unix nanos
	recalibrateAfter time.Duration
}

// New returns a timer using the given calibration.
func New(cal Calibration) *Timer {
	if cal.SleepPrecision <= 0 {
		cal.SleepPrecision = time.Nanosecond
	}
	t := &Timer{cal: cal}
	t.lastUse.Store(time.Now().UnixNano())
	return t
}

// SetRecalibrateAfter makes the timer re-measure its calibration when it has
// been idle for longer than d. Zero disables recalibration.
func (t *Timer) SetRecalibrateAfter(d time.Duration) {
	t.mu.Lock()
	t.recalibrateAfter = d
	t.mu.Unlock()
}

// Calibration returns the current calibration.
func (t *Timer) Calibration() Calibration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cal
}

// Recalibrate re-measures the sleep and wait precision.
func (t *Timer) Recalibrate() {
	cal := Calibrate()
	t.mu.Lock()
	t.cal = cal
	t.mu.Unlock()
}

// WorstYield returns the longest scheduler yield observed so far.
func (t *Timer) WorstYield() time.Duration {
	return time.Duration(t.worstYield.Load())
}

func (t *Timer) noteYield(d time.Duration) {
	for {
		cur := t.worstYield.Load()
		if int64(d) <= cur || t.worstYield.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

func (t *Timer) maybeRecalibrate(now time.Time) {
	t.mu.RLock()
	after := t.recalibrateAfter
	t.mu.RUnlock()
	last := t.lastUse.Swap(now.UnixNano())
	if after > 0 && now.Sub(time.Unix(0, last)) > after {
		t.Recalibrate()
	}
}

// Sleep blocks for approximately d.
func (t *Timer) Sleep(ctx context.Context, d time.Duration) error {
	start := time.Now()
	t.maybeRecalibrate(start)
	return t.sleepFrom(ctx, d, start)
}

// WaitReleasing sleeps like Sleep. If lock is write-held it is released for
// the duration and reacquired before returning.
func (t *Timer) WaitReleasing(ctx context.Context, d time.Duration, lock WriteLocker) error {
	start := time.Now()
	t.maybeRecalibrate(start)
	if lock == nil || !lock.WriteHeld() {
		return t.sleepFrom(ctx, d, start)
	}
	lock.Unlock()
	sleepErr := t.sleepFrom(ctx, d, start)
	// Reacquire even when the sleep was interrupted; the caller expects to
	// hold the lock unless reacquisition itself is interrupted.
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: reacquiring lock: %v", ErrInterrupted, err)
	}
	return sleepErr
}

func (t *Timer) sleepFrom(ctx context.Context, d time.Duration, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return interrupted("start", err)
	}
	precision := t.Calibration().SleepPrecision

	if d >= 2*precision {
		timer := time.NewTimer(d - precision)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return interrupted("sleep", ctx.Err())
		}
	}

	for time.Since(start)+t.WorstYield() < d {
		if err := ctx.Err(); err != nil {
			return interrupted("yield", err)
		}
		t1 := time.Now()
		runtime.Gosched()
		t.noteYield(time.Since(t1))
	}

	for time.Since(start) < d {
		if err := ctx.Err(); err != nil {
			return interrupted("busy loop", err)
		}
	}
	return nil
}

func interrupted(phase string, cause error) error {
	return fmt.Errorf("%w in %s: %v", ErrInterrupted, phase, cause)
}

var (
	defaultOnce  sync.Once
	defaultTimer *Timer
)

// Default returns the process-wide timer, calibrating it on first use.
func Default() *Timer {
	defaultOnce.Do(func() {
		defaultTimer = New(Calibrate())
	})
	return defaultTimer
}

// Sleep sleeps on the default timer.
func Sleep(ctx context.Context, d time.Duration) error {
	return Default().Sleep(ctx, d)
}

// WaitReleasing waits on the default timer.
func WaitReleasing(ctx context.Context, d time.Duration, lock WriteLocker) error {
	return Default().WaitReleasing(ctx, d, lock)
}
