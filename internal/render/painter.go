package render

import (
	"context"
	"errors"
	"time"

	"github.com/microworld/stage/internal/transport"
	"github.com/microworld/stage/internal/world"
	"go.uber.org/zap"
)

// Poster delivers a finished frame.
type Poster interface {
	Post(f *transport.Frame) (transport.Result, error)
}

type Options struct {
	ReadLockTimeout time.Duration
	IdleRepaint     time.Duration // repaint interval without requests
}

// Painter is the painter goroutine: it paints the installed world on request
// and periodically, and posts every frame.
type Painter struct {
	worlds *world.Handler
	out    Poster
	sync   *PaintSync
	opts   Options
	log    *zap.Logger

	canvas *Canvas
	frame  transport.Frame
}

func NewPainter(worlds *world.Handler, out Poster, ps *PaintSync, opts Options, log *zap.Logger) *Painter {
	return &Painter{
		worlds: worlds,
		out:    out,
		sync:   ps,
		opts:   opts,
		log:    log.Named("render"),
		canvas: NewCanvas(),
	}
}

// Run paints until ctx is done.
func (p *Painter) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if p.opts.IdleRepaint > 0 {
		t := time.NewTicker(p.opts.IdleRepaint)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-p.sync.wake:
		case <-tick:
		case <-ctx.Done():
			return nil
		}
		p.PaintOnce()
	}
}

// PaintOnce paints and posts one frame of the installed world. Waiters are
// released even when there is no world or the world lock is busy.
func (p *Painter) PaintOnce() {
	gen := p.sync.begin()
	defer p.sync.finish(gen)

	w := p.worlds.World()
	if w == nil {
		return
	}
	if err := w.Lock().TryRLock(p.opts.ReadLockTimeout); err != nil {
		p.log.Debug("frame skipped", zap.Error(err))
		return
	}
	p.canvas.Paint(w, &p.frame)
	w.Lock().RUnlock()

	res, err := p.out.Post(&p.frame)
	switch {
	case errors.Is(err, transport.ErrNotReady):
		p.log.Debug("frame before handshake", zap.Error(err))
	case err != nil:
		p.log.Warn("post frame", zap.Error(err))
	case res == transport.Dropped:
		p.log.Debug("frame dropped, previous post still running")
	}
}
