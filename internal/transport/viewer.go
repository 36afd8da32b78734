package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/shm"
	"github.com/microworld/stage/internal/transport/wire"
	"go.uber.org/zap"
)

type ViewerOptions struct {
	Layout    Layout
	MaxWidth  int
	MaxHeight int
	MaxInput  int // records per frame, negative = as many as fit
}

// Viewer is the consuming side of the region, in the process that displays
// frames and originates input.
type Viewer struct {
	region   shm.Region
	layout   Layout
	queue    *input.Queue
	maxInput int
	log      *zap.Logger

	last  int32
	stats counters
}

// NewViewer initialises the region for opts.Layout and marks it not ready.
// It must run before the painter attaches.
func NewViewer(region shm.Region, opts ViewerOptions, queue *input.Queue, log *zap.Logger) (*Viewer, error) {
	if opts.Layout == nil {
		opts.Layout = singleLayout{}
	}
	need := opts.Layout.Size(opts.MaxWidth, opts.MaxHeight, max(opts.MaxInput, 0))
	if len(region.Bytes()) < need {
		return nil, fmt.Errorf("transport: region of %d bytes, %s layout needs %d", len(region.Bytes()), opts.Layout.Name(), need)
	}
	if err := region.Lock(); err != nil {
		return nil, err
	}
	data := region.Bytes()
	opts.Layout.init(data, opts.MaxWidth, opts.MaxHeight)
	wire.Store(data, wordSeq, NotReady)
	if err := region.Unlock(); err != nil {
		return nil, err
	}
	return &Viewer{
		region:   region,
		layout:   opts.Layout,
		queue:    queue,
		maxInput: opts.MaxInput,
		log:      log.Named("viewer").With(zap.String("layout", opts.Layout.Name())),
	}, nil
}

// RegionSize is the region size NewViewer needs for opts.
func RegionSize(opts ViewerOptions) int {
	l := opts.Layout
	if l == nil {
		l = singleLayout{}
	}
	return l.Size(opts.MaxWidth, opts.MaxHeight, max(opts.MaxInput, 0))
}

// Ready reports whether the painter has attached.
func (v *Viewer) Ready() (bool, error) {
	if err := v.region.Lock(); err != nil {
		return false, err
	}
	seq := wire.Load(v.region.Bytes(), wordSeq)
	return seq != NotReady, v.region.Unlock()
}

// WaitReady polls until the painter has attached or ctx is done.
func (v *Viewer) WaitReady(ctx context.Context, poll time.Duration) error {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		ok, err := v.Ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll copies the newest frame into dst if there is one the viewer has not
// consumed yet, and hands the queued input to the painter.
func (v *Viewer) Poll(dst *Frame) (ok bool, err error) {
	if err := v.region.Lock(); err != nil {
		return false, err
	}
	defer func() {
		if uerr := v.region.Unlock(); err == nil {
			err = uerr
		}
	}()

	data := v.region.Bytes()
	seq := wire.Load(data, wordSeq)
	if seq <= 0 {
		return false, nil
	}
	if seq <= v.last {
		v.stats.corrupt.Add(1)
		return false, fmt.Errorf("%w: sequence %d after %d", ErrCorrupt, seq, v.last)
	}
	if err := v.layout.readFrame(data, dst); err != nil {
		v.stats.corrupt.Add(1)
		return false, err
	}
	v.last = seq
	wire.Store(data, wordSeq, -seq)
	v.stats.consumed.Add(1)
	v.stats.lastSeq.Store(seq)

	start, err := v.layout.inputStart(data)
	if err != nil {
		return true, err
	}
	budget := wire.Words(data) - start - 2
	keys, mouse := v.queue.Take(v.maxInput, budget)
	if err := writeInput(data, start, keys, mouse); err != nil {
		return true, err
	}
	v.stats.keysOut.Add(uint64(len(keys)))
	v.stats.mouseOut.Add(uint64(len(mouse)))
	if n := v.queue.Len(); n > 0 {
		v.stats.deferred.Add(uint64(n))
	}
	return true, nil
}

// Run polls every interval and calls onFrame for each new frame until ctx is
// done. Errors are logged and the next poll retries.
func (v *Viewer) Run(ctx context.Context, interval time.Duration, onFrame func(*Frame)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	var frame Frame
	for {
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil
		}
		ok, err := v.Poll(&frame)
		if err != nil {
			v.log.Warn("poll failed", zap.Error(err))
		}
		if ok {
			onFrame(&frame)
		}
	}
}

func (v *Viewer) Stats() Stats { return v.stats.snapshot() }
