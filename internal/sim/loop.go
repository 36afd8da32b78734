package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/core/hdtimer"
	"github.com/microworld/stage/internal/core/system"
)

// Fault is an error or panic raised by user code during an act round.
type Fault struct {
	Message string
	Stack   string
}

func (f *Fault) Error() string { return f.Message }

// stackTracer is implemented by errors that carry their own trace, such as
// script errors.
type stackTracer interface {
	StackTrace() string
}

// Run drives the simulation until ctx is done.
func (s *Simulation) Run(ctx context.Context) error {
	started := false
	lastTick := time.Now()
	lastDelay := time.Now()
	for {
		step, ok := s.awaitTurn(ctx, &started)
		if !ok {
			return nil
		}
		now := time.Now()
		s.tick(ctx, now.Sub(lastTick))
		lastTick = now
		if !step {
			s.delay(ctx, &lastDelay)
		}
	}
}

// awaitTurn publishes queued events and blocks until a round may run. It
// reports whether the round is a single step.
func (s *Simulation) awaitTurn(ctx context.Context, started *bool) (step, ok bool) {
	for {
		s.mu.Lock()
		events := s.pending
		s.pending = nil
		enabled := s.enabled
		run := s.enabled && !s.paused
		if s.once {
			s.once = false
			if !run {
				s.inOnce = true
				step = true
			}
		}
		s.mu.Unlock()

		for _, e := range events {
			s.publish(e)
		}
		switch {
		case run && !*started:
			*started = true
			event.Publish(s.bus, Started{})
		case !run && *started:
			*started = false
			if enabled {
				event.Publish(s.bus, Stopped{})
			}
		}
		if run || step {
			return step, true
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return false, false
		}
	}
}

func (s *Simulation) publish(e any) {
	switch e := e.(type) {
	case Stopped:
		event.Publish(s.bus, e)
	case Disabled:
		event.Publish(s.bus, e)
	case SpeedChanged:
		event.Publish(s.bus, e)
	case ExceptionReported:
		event.Publish(s.bus, e)
	}
}

func (s *Simulation) tick(ctx context.Context, dt time.Duration) {
	tctx, done := s.cancellable(ctx, true)
	err := s.runner.Tick(tctx, dt)
	done()

	var fault *Fault
	isFault := errors.As(err, &fault)
	if isFault && s.opts.Paint != nil {
		// Show the state the fault left behind.
		_ = s.runner.TickPhase(ctx, system.PhaseOutput, dt)
	}
	s.mu.Lock()
	s.ticks++
	s.inOnce = false
	if isFault {
		s.faultLocked(fault.Message, fault.Stack)
	}
	s.mu.Unlock()

	switch {
	case isFault:
		s.log.Info("act failed, pausing", zap.String("error", fault.Message))
	case err != nil:
		s.log.Debug("act round cut short", zap.Error(err))
	}
}

// delay sleeps so that consecutive rounds are (MaxSpeed-speed)*StepUnit
// apart.
func (s *Simulation) delay(ctx context.Context, last *time.Time) {
	if wait := s.StepDelay() - time.Since(*last); wait > 0 {
		dctx, done := s.cancellable(ctx, false)
		err := s.opts.Timer.Sleep(dctx, wait)
		done()
		if err != nil {
			s.log.Debug("delay interrupted", zap.Error(err))
		}
	}
	*last = time.Now()
}

func (s *Simulation) cancellable(ctx context.Context, act bool) (context.Context, func()) {
	c, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.inAct = act
	s.mu.Unlock()
	return c, func() {
		s.mu.Lock()
		s.cancel = nil
		s.inAct = false
		s.mu.Unlock()
		cancel()
	}
}

func (s *Simulation) latchInput(context.Context, time.Duration) error {
	for _, l := range s.opts.Latchers {
		l.NewAct()
	}
	return nil
}

// act calls the world and then every actor under the world write lock.
func (s *Simulation) act(ctx context.Context, _ time.Duration) error {
	w := s.worlds.World()
	if w == nil {
		return nil
	}
	lock := w.Lock()
	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("%w: world lock: %v", hdtimer.ErrInterrupted, err)
	}
	defer func() {
		// A user wait may have failed to reacquire the lock.
		if lock.WriteHeld() {
			lock.Unlock()
		}
	}()

	if b := w.Behavior(); b != nil {
		if err := userCall(ctx, func() error { return b.Act(ctx, w) }); err != nil {
			return err
		}
	}
	for _, a := range w.Actors() {
		// Skip actors removed earlier in this round.
		if a.World() != w || a.Behavior() == nil {
			continue
		}
		if err := userCall(ctx, func() error { return a.Behavior().Act(ctx, a) }); err != nil {
			return err
		}
	}
	return nil
}

// userCall runs user code and turns failures into a *Fault. Interruption is
// returned as is.
func userCall(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Fault{Message: fmt.Sprint(rec), Stack: string(debug.Stack())}
		}
	}()
	err = fn()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, hdtimer.ErrInterrupted) {
		return err
	}
	f := &Fault{Message: err.Error()}
	var st stackTracer
	if errors.As(err, &st) {
		f.Stack = st.StackTrace()
	}
	return f
}

func (s *Simulation) paint(ctx context.Context, _ time.Duration) error {
	gen := s.opts.Paint.Request()
	wctx, cancel := context.WithTimeout(ctx, s.opts.PaintWait)
	defer cancel()
	if err := s.opts.Paint.Wait(wctx, gen); err != nil && ctx.Err() == nil {
		s.log.Debug("paint not confirmed", zap.Uint64("gen", gen), zap.Error(err))
	}
	return nil
}
