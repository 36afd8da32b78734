// Package sim runs the world: a single goroutine repeatedly asks every actor
// to act, requests a paint and then waits according to the speed setting.
package sim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/core/hdtimer"
	"github.com/microworld/stage/internal/core/system"
	"github.com/microworld/stage/internal/world"
)

// State is the scheduler state.
type State int

const (
	StateDisabled State = iota
	StatePaused
	StateRunning
	StateOnce
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StatePaused:
		return "paused"
	case StateRunning:
		return "running"
	case StateOnce:
		return "once"
	default:
		return "unknown"
	}
}

// MaxSpeed is the fastest setting; it runs ticks back to back.
const MaxSpeed = 100

// Events published on the bus, always from the loop goroutine.
type (
	Started      struct{}
	Stopped      struct{}
	Disabled     struct{}
	SpeedChanged struct{ Speed int }

	// ExceptionReported carries a fault raised by user code.
	ExceptionReported struct {
		Message string
		Stack   string
	}
)

// Latcher is an input manager that snapshots state at the start of each act
// round.
type Latcher interface {
	NewAct()
}

// PaintRequester lets the loop wait for the frame it asked for.
type PaintRequester interface {
	Request() uint64
	Wait(ctx context.Context, gen uint64) error
}

// Options configures a Simulation.
type Options struct {
	Speed     int
	StepUnit  time.Duration
	PaintWait time.Duration
	Timer     *hdtimer.Timer
	Paint     PaintRequester
	Latchers  []Latcher
}

// Simulation is the scheduler. It starts DISABLED and paused.
type Simulation struct {
	worlds *world.Handler
	bus    *event.Bus
	opts   Options
	runner *system.Runner
	log    *zap.Logger

	mu      sync.Mutex
	enabled bool
	paused  bool
	once    bool // step requested
	inOnce  bool // step in progress
	inAct   bool
	speed   int
	pending []any
	wake    chan struct{}
	cancel  context.CancelFunc // current tick or delay

	ticks uint64
}

func New(worlds *world.Handler, bus *event.Bus, opts Options, log *zap.Logger) *Simulation {
	if opts.StepUnit <= 0 {
		opts.StepUnit = 4 * time.Millisecond
	}
	if opts.PaintWait <= 0 {
		opts.PaintWait = 100 * time.Millisecond
	}
	if opts.Timer == nil {
		opts.Timer = hdtimer.Default()
	}
	s := &Simulation{
		worlds: worlds,
		bus:    bus,
		opts:   opts,
		runner: system.NewRunner(),
		log:    log.Named("sim"),
		paused: true,
		speed:  clampSpeed(opts.Speed),
		wake:   make(chan struct{}, 1),
	}
	s.runner.Register(system.Func{P: system.PhaseInput, Fn: s.latchInput})
	s.runner.Register(system.Func{P: system.PhaseUpdate, Fn: s.act})
	if opts.Paint != nil {
		s.runner.Register(system.Func{P: system.PhaseOutput, Fn: s.paint})
	}
	return s
}

func clampSpeed(v int) int {
	return max(0, min(MaxSpeed, v))
}

// State reports the current state.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Simulation) stateLocked() State {
	switch {
	case !s.enabled:
		return StateDisabled
	case s.once || s.inOnce:
		return StateOnce
	case !s.paused:
		return StateRunning
	default:
		return StatePaused
	}
}

func (s *Simulation) Speed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

// StepDelay is the pause between act rounds at the current speed.
func (s *Simulation) StepDelay() time.Duration {
	return time.Duration(MaxSpeed-s.Speed()) * s.opts.StepUnit
}

// Ticks returns the number of completed act rounds.
func (s *Simulation) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// SetPaused pauses or resumes. It has no effect while disabled.
func (s *Simulation) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.paused == paused {
		return
	}
	s.paused = paused
	if paused {
		s.cutDelayLocked()
	}
	s.signalLocked()
}

// SetEnabled enables or disables the simulation. Disabling also pauses.
func (s *Simulation) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	if enabled {
		s.pending = append(s.pending, Stopped{})
	} else {
		s.paused = true
		s.once = false
		s.pending = append(s.pending, Disabled{})
		s.cutDelayLocked()
	}
	s.signalLocked()
}

// SetSpeed sets the speed, clamped to [0, MaxSpeed].
func (s *Simulation) SetSpeed(speed int) {
	speed = clampSpeed(speed)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == speed {
		return
	}
	s.speed = speed
	s.pending = append(s.pending, SpeedChanged{Speed: speed})
	s.cutDelayLocked()
	s.signalLocked()
}

// StepOnce runs a single act round if the simulation is paused.
func (s *Simulation) StepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || !s.paused || s.once || s.inOnce {
		return
	}
	s.once = true
	s.signalLocked()
}

// Interrupt cuts the current delay or user wait short. The act round in
// progress sees its context cancelled; that is not treated as a fault.
func (s *Simulation) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.signalLocked()
}

// ReportException pauses the simulation and publishes the fault. It is used
// for failures outside an act round, such as world construction.
func (s *Simulation) ReportException(message, stack string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultLocked(message, stack)
	s.signalLocked()
}

func (s *Simulation) faultLocked(message, stack string) {
	s.paused = true
	s.pending = append(s.pending, ExceptionReported{Message: message, Stack: stack})
}

// cutDelayLocked ends a pending speed delay; act rounds only see Interrupt.
func (s *Simulation) cutDelayLocked() {
	if s.cancel != nil && !s.inAct {
		s.cancel()
	}
}

func (s *Simulation) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WorldCreated enables the simulation for the new world.
func (s *Simulation) WorldCreated(*world.World) { s.SetEnabled(true) }

// WorldRemoved disables the simulation.
func (s *Simulation) WorldRemoved(*world.World) { s.SetEnabled(false) }

var _ world.Listener = (*Simulation)(nil)
