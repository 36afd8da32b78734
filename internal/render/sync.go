package render

import (
	"context"
	"sync"
)

// PaintSync lets a goroutine ask the painter for a frame and wait until a
// paint that started after the request has finished. Skipped paints count as
// finished so waiters are always released.
type PaintSync struct {
	mu        sync.Mutex
	requested uint64
	painted   uint64
	changed   chan struct{}
	wake      chan struct{}
}

func NewPaintSync() *PaintSync {
	return &PaintSync{
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Request asks for a repaint and returns the generation to wait for.
func (s *PaintSync) Request() uint64 {
	s.mu.Lock()
	s.requested++
	gen := s.requested
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return gen
}

// Wait blocks until generation gen has been painted or ctx is done.
func (s *PaintSync) Wait(ctx context.Context, gen uint64) error {
	for {
		s.mu.Lock()
		done := s.painted >= gen
		ch := s.changed
		s.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// begin returns the newest requested generation; a paint starting now
// satisfies every request up to it.
func (s *PaintSync) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// finish records that every generation up to gen has been painted.
func (s *PaintSync) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.painted {
		return
	}
	s.painted = gen
	close(s.changed)
	s.changed = make(chan struct{})
}
