package system

import (
	"context"
	"time"
)

// Phase defines execution ordering within a single simulation tick.
type Phase int

const (
	PhaseInput  Phase = iota // 0: latch input received since the last tick
	PhaseUpdate              // 1: world and actor act()
	PhaseOutput              // 2: request a frame paint
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseUpdate:
		return "update"
	case PhaseOutput:
		return "output"
	default:
		return "unknown"
	}
}

// System is one step of a tick.
type System interface {
	Phase() Phase
	Update(ctx context.Context, dt time.Duration) error
}

// Func adapts a function to a System.
type Func struct {
	P  Phase
	Fn func(ctx context.Context, dt time.Duration) error
}

func (f Func) Phase() Phase { return f.P }

func (f Func) Update(ctx context.Context, dt time.Duration) error {
	return f.Fn(ctx, dt)
}
