package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/shm"
	"github.com/microworld/stage/internal/transport/wire"
	"go.uber.org/zap"
)

// Result of a Post.
type Result int

const (
	Posted Result = iota
	// Dropped means another Post was still in progress.
	Dropped
	Failed
)

// Painter is the writing side of the region, in the process that renders the
// world.
type Painter struct {
	region shm.Region
	layout Layout
	sink   input.Sink
	log    *zap.Logger

	sending   atomic.Bool
	readyOnce sync.Once
	next      int32 // guarded by sending
	stats     counters
}

// NewPainter attaches to a region the viewer has initialised. Drained input
// is handed to sink.
func NewPainter(region shm.Region, sink input.Sink, log *zap.Logger) (*Painter, error) {
	if err := region.Lock(); err != nil {
		return nil, err
	}
	layout, err := detectLayout(region.Bytes())
	region.Unlock()
	if err != nil {
		return nil, err
	}
	return &Painter{
		region: region,
		layout: layout,
		sink:   sink,
		log:    log.Named("painter").With(zap.String("layout", layout.Name())),
	}, nil
}

func (p *Painter) Layout() Layout { return p.layout }

// MaxPixels is the largest frame the region holds.
func (p *Painter) MaxPixels() int { return p.layout.maxPixels(p.region.Bytes()) }

// Ready tells the viewer the painter is attached by storing sequence 0. Only
// the first call has an effect.
func (p *Painter) Ready() error {
	var err error
	p.readyOnce.Do(func() {
		if err = p.region.Lock(); err != nil {
			return
		}
		wire.Store(p.region.Bytes(), wordSeq, 0)
		err = p.region.Unlock()
		p.log.Info("ready")
	})
	return err
}

// Post writes f as the next frame. If a previous Post is still running the
// frame is dropped. Input the viewer appended since its last consumption is
// dispatched to the sink after the region is unlocked.
func (p *Painter) Post(f *Frame) (Result, error) {
	if !p.sending.CompareAndSwap(false, true) {
		p.stats.dropped.Add(1)
		return Dropped, nil
	}
	defer p.sending.Store(false)

	if err := checkFrame(f); err != nil {
		return Failed, err
	}

	keys, mouse, err := p.write(f)
	if err != nil {
		return Failed, err
	}
	if len(keys)+len(mouse) > 0 {
		p.stats.keysIn.Add(uint64(len(keys)))
		p.stats.mouseIn.Add(uint64(len(mouse)))
		p.sink.Dispatch(keys, mouse)
	}
	return Posted, nil
}

func (p *Painter) write(f *Frame) (keys []input.KeyRecord, mouse []input.MouseRecord, err error) {
	if err := p.region.Lock(); err != nil {
		return nil, nil, err
	}
	defer func() {
		if uerr := p.region.Unlock(); err == nil {
			err = uerr
		}
	}()

	data := p.region.Bytes()
	if room := p.layout.maxPixels(data); len(f.Pix) > room {
		return nil, nil, fmt.Errorf("%w: %dx%d, room for %d pixels", ErrFrameTooLarge, f.Width, f.Height, room)
	}
	seq := wire.Load(data, wordSeq)
	if seq == NotReady {
		return nil, nil, ErrNotReady
	}
	if seq < 0 {
		keys, mouse, err = p.drain(data)
		if err != nil {
			// The frame still goes out; only this window's input is lost.
			p.stats.corrupt.Add(1)
			p.log.Warn("discarding input section", zap.Error(err))
			keys, mouse = nil, nil
		}
	}

	if err := p.layout.writeFrame(data, f); err != nil {
		return nil, nil, fmt.Errorf("write frame: %w", err)
	}
	p.next++
	wire.Store(data, wordSeq, p.next)
	p.stats.posted.Add(1)
	p.stats.lastSeq.Store(p.next)
	return keys, mouse, nil
}

func (p *Painter) drain(data []byte) ([]input.KeyRecord, []input.MouseRecord, error) {
	start, err := p.layout.inputStart(data)
	if err != nil {
		return nil, nil, err
	}
	return readInput(data, start)
}

func (p *Painter) Stats() Stats { return p.stats.snapshot() }
