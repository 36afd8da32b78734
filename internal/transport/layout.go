package transport

import (
	"fmt"
	"math"

	"github.com/microworld/stage/internal/input"
	"github.com/microworld/stage/internal/transport/wire"
)

// Header words shared by every layout.
const (
	wordLayout = 0
	wordSeq    = 1
	wordWidth  = 2
	wordHeight = 3
)

// NotReady is the sequence value the viewer stores before the painter has
// attached. The painter replaces it with 0.
const NotReady int32 = math.MinInt32

// Layout word values. The double layout adds the index of the current pixel
// region to layoutDouble.
const (
	layoutSingle = 0
	layoutDouble = 2
)

// Layout places frames and input records in the shared region.
type Layout interface {
	Name() string
	// Size returns the bytes needed for frames of up to maxW×maxH pixels and
	// maxInput records.
	Size(maxW, maxH, maxInput int) int
	init(data []byte, maxW, maxH int)
	maxPixels(data []byte) int
	writeFrame(data []byte, f *Frame) error
	readFrame(data []byte, dst *Frame) error
	// inputStart is the word index of the input section for the frame
	// currently described by the header.
	inputStart(data []byte) (int, error)
}

// LayoutByName returns "single" or "double".
func LayoutByName(name string) (Layout, error) {
	switch name {
	case "", "single":
		return singleLayout{}, nil
	case "double":
		return doubleLayout{}, nil
	default:
		return nil, fmt.Errorf("unknown frame layout %q", name)
	}
}

func detectLayout(data []byte) (Layout, error) {
	if wire.Words(data) < 5 {
		return nil, fmt.Errorf("%w: region of %d bytes", ErrCorrupt, len(data))
	}
	switch w := wire.Load(data, wordLayout); w {
	case layoutSingle:
		return singleLayout{}, nil
	case layoutDouble, layoutDouble + 1:
		return doubleLayout{}, nil
	default:
		return nil, fmt.Errorf("%w: layout word %d", ErrCorrupt, w)
	}
}

func inputWords(maxInput int) int {
	return 2 + maxInput*input.MouseRecordWords
}

func checkFrame(f *Frame) error {
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height {
		return fmt.Errorf("transport: malformed frame %dx%d with %d pixels", f.Width, f.Height, len(f.Pix))
	}
	return nil
}

func readSize(data []byte, at, limit int) (w, h int, err error) {
	w, h = int(wire.Load(data, at)), int(wire.Load(data, at+1))
	if w <= 0 || h <= 0 || w > limit || h > limit || w*h > limit {
		return 0, 0, fmt.Errorf("%w: frame size %dx%d", ErrCorrupt, w, h)
	}
	return w, h, nil
}

func readPixels(data []byte, at int, w, h int, dst *Frame) error {
	dst.Width, dst.Height = w, h
	if cap(dst.Pix) < w*h {
		dst.Pix = make([]uint32, w*h)
	}
	dst.Pix = dst.Pix[:w*h]
	r := wire.NewReader(data, at)
	r.Uint32s(dst.Pix)
	return r.Err()
}

// singleLayout keeps one frame: [layout, seq, w, h, pixels..., input...].
// The input section follows the pixels of the current frame.
type singleLayout struct{}

const singleHeader = 4

func (singleLayout) Name() string { return "single" }

func (singleLayout) Size(maxW, maxH, maxInput int) int {
	return (singleHeader + maxW*maxH + inputWords(maxInput)) * wire.WordSize
}

func (singleLayout) init(data []byte, _, _ int) {
	wire.Store(data, wordLayout, layoutSingle)
	wire.Store(data, wordWidth, 0)
	wire.Store(data, wordHeight, 0)
}

func (singleLayout) maxPixels(data []byte) int {
	return wire.Words(data) - singleHeader - 2
}

func (l singleLayout) writeFrame(data []byte, f *Frame) error {
	if len(f.Pix) > l.maxPixels(data) {
		return fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, f.Width, f.Height)
	}
	w := wire.NewWriter(data, wordWidth)
	w.Word(int32(f.Width))
	w.Word(int32(f.Height))
	w.Uint32s(f.Pix)
	return w.Err()
}

func (l singleLayout) readFrame(data []byte, dst *Frame) error {
	w, h, err := readSize(data, wordWidth, l.maxPixels(data))
	if err != nil {
		return err
	}
	return readPixels(data, singleHeader, w, h, dst)
}

func (l singleLayout) inputStart(data []byte) (int, error) {
	w, h := int(wire.Load(data, wordWidth)), int(wire.Load(data, wordHeight))
	if w < 0 || h < 0 || w*h > l.maxPixels(data) {
		return 0, fmt.Errorf("%w: frame size %dx%d", ErrCorrupt, w, h)
	}
	return singleHeader + w*h, nil
}

// doubleLayout keeps two pixel regions and a fixed input section:
// [layout, seq, w, h, capacity, region0, region1, input...] where each region
// is [w, h, capacity pixels]. The layout word names the current region. The
// painter fills the other region and then flips the layout word, so the
// current frame stays intact while the next one is written.
type doubleLayout struct{}

const (
	wordCapacity = 4
	doubleHeader = 5
)

func (doubleLayout) Name() string { return "double" }

func (doubleLayout) Size(maxW, maxH, maxInput int) int {
	return (doubleHeader + 2*(2+maxW*maxH) + inputWords(maxInput)) * wire.WordSize
}

func (doubleLayout) init(data []byte, maxW, maxH int) {
	wire.Store(data, wordLayout, layoutDouble)
	wire.Store(data, wordWidth, 0)
	wire.Store(data, wordHeight, 0)
	wire.Store(data, wordCapacity, int32(maxW*maxH))
}

func (doubleLayout) maxPixels(data []byte) int {
	return int(wire.Load(data, wordCapacity))
}

func (l doubleLayout) region(data []byte, i int) int {
	return doubleHeader + i*(2+l.maxPixels(data))
}

func (doubleLayout) current(data []byte) int {
	if wire.Load(data, wordLayout) == layoutDouble+1 {
		return 1
	}
	return 0
}

func (l doubleLayout) writeFrame(data []byte, f *Frame) error {
	if len(f.Pix) > l.maxPixels(data) {
		return fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, f.Width, f.Height)
	}
	next := 1 - l.current(data)
	w := wire.NewWriter(data, l.region(data, next))
	w.Word(int32(f.Width))
	w.Word(int32(f.Height))
	w.Uint32s(f.Pix)
	if err := w.Err(); err != nil {
		return err
	}
	wire.Store(data, wordWidth, int32(f.Width))
	wire.Store(data, wordHeight, int32(f.Height))
	wire.Store(data, wordLayout, int32(layoutDouble+next))
	return nil
}

func (l doubleLayout) readFrame(data []byte, dst *Frame) error {
	at := l.region(data, l.current(data))
	w, h, err := readSize(data, at, l.maxPixels(data))
	if err != nil {
		return err
	}
	return readPixels(data, at+2, w, h, dst)
}

func (l doubleLayout) inputStart(data []byte) (int, error) {
	start := l.region(data, 2)
	if start < doubleHeader || start+2 > wire.Words(data) {
		return 0, fmt.Errorf("%w: capacity %d", ErrCorrupt, l.maxPixels(data))
	}
	return start, nil
}

// writeInput stores key records then mouse records, each stream prefixed by
// its count.
func writeInput(data []byte, start int, keys []input.KeyRecord, mouse []input.MouseRecord) error {
	w := wire.NewWriter(data, start)
	w.Word(int32(len(keys)))
	for _, k := range keys {
		w.Word(int32(k.Kind))
		w.Word(int32(k.Key))
	}
	w.Word(int32(len(mouse)))
	for _, m := range mouse {
		w.Word(int32(m.Kind))
		w.Word(m.X)
		w.Word(m.Y)
		w.Word(m.Button)
		w.Word(m.ClickCount)
	}
	return w.Err()
}

func readInput(data []byte, start int) ([]input.KeyRecord, []input.MouseRecord, error) {
	r := wire.NewReader(data, start)
	avail := wire.Words(data) - start
	nk := int(r.Word())
	if nk < 0 || nk*input.KeyRecordWords > avail {
		return nil, nil, fmt.Errorf("%w: %d key records", ErrCorrupt, nk)
	}
	keys := make([]input.KeyRecord, nk)
	for i := range keys {
		keys[i] = input.KeyRecord{Kind: input.Kind(r.Word()), Key: input.Key(r.Word())}
	}
	nm := int(r.Word())
	if nm < 0 || nm*input.MouseRecordWords > avail {
		return nil, nil, fmt.Errorf("%w: %d mouse records", ErrCorrupt, nm)
	}
	mouse := make([]input.MouseRecord, nm)
	for i := range mouse {
		mouse[i] = input.MouseRecord{
			Kind:       input.Kind(r.Word()),
			X:          r.Word(),
			Y:          r.Word(),
			Button:     r.Word(),
			ClickCount: r.Word(),
		}
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return keys, mouse, nil
}
