// Package transport moves rendered frames from the process running the world
// to the viewer process through a shared memory region, and input records
// back the other way.
//
// The region starts with a sequence word. A positive value is a frame the
// painter wrote and the viewer has not consumed; the viewer negates it when
// it copies the frame and, in the same critical section, appends the input
// queued since the previous frame. The painter drains that input the next
// time it finds a negative sequence, before writing the next frame. Every
// step runs under the region lock.
package transport

import (
	"errors"
	"sync/atomic"
)

var (
	ErrCorrupt       = errors.New("transport: corrupt shared region")
	ErrFrameTooLarge = errors.New("transport: frame exceeds region")
	ErrNotReady      = errors.New("transport: painter not attached")
)

// Frame is a row-major image of premultiplied ARGB words, alpha in the most
// significant byte.
type Frame struct {
	Width, Height int
	Pix           []uint32
}

// NewFrame returns a zeroed frame of the given size.
func NewFrame(w, h int) *Frame {
	return &Frame{Width: w, Height: h, Pix: make([]uint32, w*h)}
}

// Stats counts frames and input records on one side of the region.
type Stats struct {
	Posted   uint64 // frames written by the painter
	Dropped  uint64 // paints skipped by the reentrancy guard
	Consumed uint64 // frames copied by the viewer
	Corrupt  uint64
	LastSeq  int32

	KeysIn   uint64 // key records drained by the painter
	MouseIn  uint64
	KeysOut  uint64 // key records appended by the viewer
	MouseOut uint64
	Deferred uint64 // viewer records left for a later frame for lack of room
}

type counters struct {
	posted, dropped, consumed, corrupt atomic.Uint64
	keysIn, mouseIn, keysOut, mouseOut atomic.Uint64
	deferred                           atomic.Uint64
	lastSeq                            atomic.Int32
}

func (c *counters) snapshot() Stats {
	return Stats{
		Posted:   c.posted.Load(),
		Dropped:  c.dropped.Load(),
		Consumed: c.consumed.Load(),
		Corrupt:  c.corrupt.Load(),
		LastSeq:  c.lastSeq.Load(),
		KeysIn:   c.keysIn.Load(),
		MouseIn:  c.mouseIn.Load(),
		KeysOut:  c.keysOut.Load(),
		MouseOut: c.mouseOut.Load(),
		Deferred: c.deferred.Load(),
	}
}
