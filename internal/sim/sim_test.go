package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/microworld/stage/internal/core/event"
	"github.com/microworld/stage/internal/core/hdtimer"
	"github.com/microworld/stage/internal/world"
)

type eventLog struct {
	mu    sync.Mutex
	names []string
	exc   []ExceptionReported
	ch    chan string
}

func watch(bus *event.Bus) *eventLog {
	l := &eventLog{ch: make(chan string, 256)}
	event.Subscribe(bus, func(Started) { l.add("started") })
	event.Subscribe(bus, func(Stopped) { l.add("stopped") })
	event.Subscribe(bus, func(Disabled) { l.add("disabled") })
	event.Subscribe(bus, func(e SpeedChanged) { l.add(fmt.Sprintf("speed:%d", e.Speed)) })
	event.Subscribe(bus, func(e ExceptionReported) {
		l.mu.Lock()
		l.exc = append(l.exc, e)
		l.mu.Unlock()
		l.add("exception")
	})
	return l
}

func (l *eventLog) add(name string) {
	l.mu.Lock()
	l.names = append(l.names, name)
	l.mu.Unlock()
	l.ch <- name
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (l *eventLog) waitFor(t *testing.T, name string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-l.ch:
			if got == name {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q; saw %v", name, l.snapshot())
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type fixture struct {
	sim    *Simulation
	worlds *world.Handler
	events *eventLog
}

func start(t *testing.T, speed int) *fixture {
	t.Helper()
	bus := event.NewBus()
	f := &fixture{
		worlds: world.NewHandler(zap.NewNop()),
		events: watch(bus),
	}
	f.sim = New(f.worlds, bus, Options{Speed: speed, StepUnit: 50 * time.Microsecond}, zap.NewNop())
	f.worlds.AddListener(f.sim)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sim.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return f
}

func (f *fixture) install(t *testing.T, behaviors ...world.Behavior) *world.World {
	t.Helper()
	w, err := world.New("test", 10, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	for i, b := range behaviors {
		w.Add(world.NewActor("actor", nil, b), i, 0)
	}
	f.worlds.Install(w)
	return w
}

func TestSimulation_FaultPausesAfterFailingRound(t *testing.T) {
	f := start(t, MaxSpeed)
	var calls atomic.Int32
	f.install(t, world.BehaviorFunc(func(context.Context, *world.Actor) error {
		if calls.Add(1) == 5 {
			return errors.New("boom")
		}
		return nil
	}))
	f.events.waitFor(t, "stopped")

	f.sim.SetPaused(false)
	f.events.waitFor(t, "exception")
	f.events.waitFor(t, "stopped")

	want := []string{"stopped", "started", "exception", "stopped"}
	if diff := cmp.Diff(want, f.events.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 5 {
		t.Errorf("act calls after fault = %d, want 5", got)
	}
	if got := f.sim.Ticks(); got != 5 {
		t.Errorf("ticks = %d, want 5", got)
	}
	if got := f.sim.State(); got != StatePaused {
		t.Errorf("state = %v, want paused", got)
	}
	if exc := f.events.exc[0]; exc.Message != "boom" {
		t.Errorf("exception message = %q", exc.Message)
	}

	f.sim.SetPaused(false)
	eventually(t, "tick 6", func() bool { return calls.Load() >= 6 })
}

func TestSimulation_PanicIsReported(t *testing.T) {
	f := start(t, MaxSpeed)
	f.install(t, world.BehaviorFunc(func(context.Context, *world.Actor) error {
		panic("nil actor")
	}))
	f.sim.SetPaused(false)
	f.events.waitFor(t, "exception")

	f.events.mu.Lock()
	exc := f.events.exc[0]
	f.events.mu.Unlock()
	if exc.Message != "nil actor" {
		t.Errorf("message = %q", exc.Message)
	}
	if !strings.Contains(exc.Stack, "goroutine") {
		t.Errorf("stack missing: %q", exc.Stack)
	}
	eventually(t, "pause", func() bool { return f.sim.State() == StatePaused })
}

func TestSimulation_SettersAreIdempotent(t *testing.T) {
	f := start(t, 10)
	f.install(t)
	f.events.waitFor(t, "stopped")

	f.sim.SetEnabled(true)
	f.sim.SetPaused(true)
	f.sim.SetSpeed(50)
	f.sim.SetSpeed(50)
	f.sim.SetSpeed(51)
	f.events.waitFor(t, "speed:51")

	want := []string{"stopped", "speed:50", "speed:51"}
	if diff := cmp.Diff(want, f.events.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSimulation_SpeedIsClamped(t *testing.T) {
	f := start(t, 30)
	f.sim.SetSpeed(150)
	if got := f.sim.Speed(); got != MaxSpeed {
		t.Errorf("speed = %d, want %d", got, MaxSpeed)
	}
	f.sim.SetSpeed(-4)
	if got := f.sim.Speed(); got != 0 {
		t.Errorf("speed = %d, want 0", got)
	}
}

func TestSimulation_DisabledIgnoresControls(t *testing.T) {
	f := start(t, MaxSpeed)
	f.sim.SetPaused(false)
	f.sim.StepOnce()
	time.Sleep(10 * time.Millisecond)
	if got := f.sim.State(); got != StateDisabled {
		t.Errorf("state = %v, want disabled", got)
	}
	if got := f.sim.Ticks(); got != 0 {
		t.Errorf("ticks = %d", got)
	}
}

func TestSimulation_StepOnce(t *testing.T) {
	f := start(t, MaxSpeed)
	var calls atomic.Int32
	f.install(t, world.BehaviorFunc(func(context.Context, *world.Actor) error {
		calls.Add(1)
		return nil
	}))
	f.events.waitFor(t, "stopped")

	f.sim.StepOnce()
	eventually(t, "one tick", func() bool { return f.sim.Ticks() == 1 })
	eventually(t, "pause", func() bool { return f.sim.State() == StatePaused })
	time.Sleep(10 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("act calls = %d, want 1", got)
	}
	f.sim.SetSpeed(7)
	f.events.waitFor(t, "speed:7")
	if diff := cmp.Diff([]string{"stopped", "speed:7"}, f.events.snapshot()); diff != "" {
		t.Errorf("a single step must not start the simulation (-want +got):\n%s", diff)
	}
}

func TestSimulation_RemoveWorldDisables(t *testing.T) {
	f := start(t, MaxSpeed)
	f.install(t)
	f.sim.SetPaused(false)
	f.events.waitFor(t, "started")

	f.worlds.Remove()
	f.events.waitFor(t, "disabled")
	if got := f.sim.State(); got != StateDisabled {
		t.Errorf("state = %v, want disabled", got)
	}
	f.sim.SetSpeed(3)
	f.events.waitFor(t, "speed:3")
	want := []string{"stopped", "started", "disabled", "speed:3"}
	if diff := cmp.Diff(want, f.events.snapshot()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestSimulation_InterruptReleasesUserWait(t *testing.T) {
	f := start(t, MaxSpeed)
	entered := make(chan struct{})
	var calls atomic.Int32
	w := f.install(t, world.BehaviorFunc(func(ctx context.Context, a *world.Actor) error {
		if calls.Add(1) > 1 {
			return nil
		}
		close(entered)
		return hdtimer.WaitReleasing(ctx, time.Minute, a.World().Lock())
	}))
	f.sim.SetPaused(false)
	<-entered

	// The world lock is free for readers while the actor waits.
	if err := w.Lock().TryRLock(time.Second); err != nil {
		t.Fatalf("read lock during user wait: %v", err)
	}
	w.Lock().RUnlock()

	f.sim.Interrupt()
	eventually(t, "second act", func() bool { return calls.Load() >= 2 })
	f.sim.SetPaused(true)
	f.events.waitFor(t, "stopped")
	for _, name := range f.events.snapshot() {
		if name == "exception" {
			t.Fatal("interruption reported as a fault")
		}
	}
}

func TestSimulation_ReportException(t *testing.T) {
	f := start(t, MaxSpeed)
	f.install(t)
	f.sim.SetPaused(false)
	f.events.waitFor(t, "started")

	f.sim.ReportException("init failed", "world.lua:3")
	f.events.waitFor(t, "exception")
	f.events.waitFor(t, "stopped")
	if got := f.sim.State(); got != StatePaused {
		t.Errorf("state = %v, want paused", got)
	}
}

type latchCounter struct{ n atomic.Int32 }

func (l *latchCounter) NewAct() { l.n.Add(1) }

type instantPaint struct{ requests atomic.Int32 }

func (p *instantPaint) Request() uint64 { return uint64(p.requests.Add(1)) }

func (p *instantPaint) Wait(context.Context, uint64) error { return nil }

func TestSimulation_RoundPhases(t *testing.T) {
	bus := event.NewBus()
	worlds := world.NewHandler(zap.NewNop())
	latch := &latchCounter{}
	paint := &instantPaint{}
	s := New(worlds, bus, Options{Speed: MaxSpeed, Paint: paint, Latchers: []Latcher{latch}}, zap.NewNop())
	worlds.AddListener(s)

	w, _ := world.New("w", 4, 4, 4)
	worlds.Install(w)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 3; i++ {
		before := s.Ticks()
		s.StepOnce()
		eventually(t, "step", func() bool { return s.Ticks() == before+1 && s.State() == StatePaused })
	}
	if got := latch.n.Load(); got != 3 {
		t.Errorf("latches = %d, want 3", got)
	}
	if got := paint.requests.Load(); got != 3 {
		t.Errorf("paint requests = %d, want 3", got)
	}
}

func TestSimulation_StepDelay(t *testing.T) {
	s := New(world.NewHandler(zap.NewNop()), event.NewBus(), Options{Speed: 40, StepUnit: time.Millisecond}, zap.NewNop())
	if got := s.StepDelay(); got != 60*time.Millisecond {
		t.Errorf("StepDelay at 40 = %v", got)
	}
	s.SetSpeed(MaxSpeed)
	if got := s.StepDelay(); got != 0 {
		t.Errorf("StepDelay at max = %v", got)
	}
}
