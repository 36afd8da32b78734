package compile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/microworld/stage/internal/uiloop"
	"go.uber.org/zap"
)

// ErrBridge marks a failure of the observer running on the UI loop.
var ErrBridge = errors.New("observer bridge")

// Bridge re-issues observer events on a UI loop and blocks until each one has
// been handled there, so the worker's event order is the observer's order.
// Calls are serialized: at most one event is in flight.
type Bridge struct {
	mu   sync.Mutex
	loop *uiloop.Loop
	link Observer
	log  *zap.Logger
}

func NewBridge(loop *uiloop.Loop, link Observer, log *zap.Logger) *Bridge {
	return &Bridge{loop: loop, link: link, log: log.Named("bridge")}
}

func (b *Bridge) StartCompile(ctx context.Context, sources []Source) error {
	sources = append([]Source(nil), sources...)
	return b.invoke(ctx, "start", func() error { return b.link.StartCompile(ctx, sources) })
}

func (b *Bridge) Diagnostic(ctx context.Context, d Diagnostic) error {
	return b.invoke(ctx, "diagnostic", func() error { return b.link.Diagnostic(ctx, d) })
}

func (b *Bridge) EndCompile(ctx context.Context, sources []Source, success bool) error {
	sources = append([]Source(nil), sources...)
	return b.invoke(ctx, "end", func() error { return b.link.EndCompile(ctx, sources, success) })
}

func (b *Bridge) invoke(ctx context.Context, what string, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var linkErr error
	err := b.loop.Invoke(ctx, func() { linkErr = fn() })
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The event stays queued on the loop and still runs in order.
		b.log.Debug("interrupted while awaiting ui loop", zap.String("event", what), zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("%w: %s: %v", ErrBridge, what, err)
	case linkErr != nil:
		return fmt.Errorf("%w: %s: %v", ErrBridge, what, linkErr)
	}
	return nil
}
