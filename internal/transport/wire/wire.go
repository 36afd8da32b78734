// Package wire reads and writes little-endian 32-bit words in a shared byte
// slice. Offsets are word indexes.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const WordSize = 4

// ErrRange is returned when an access runs past the end of the buffer.
var ErrRange = errors.New("wire: access out of range")

// Words returns how many whole words fit in data.
func Words(data []byte) int { return len(data) / WordSize }

// Load reads the word at index i.
func Load(data []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(data[i*WordSize:]))
}

// Store writes the word at index i.
func Store(data []byte, i int, v int32) {
	binary.LittleEndian.PutUint32(data[i*WordSize:], uint32(v))
}

// Reader reads consecutive words. The first out-of-range read sets Err and
// every later read returns zero.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte, word int) *Reader {
	return &Reader{data: data, off: word}
}

func (r *Reader) fits(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || (r.off+n)*WordSize > len(r.data) {
		r.err = fmt.Errorf("%w: %d words at word %d of %d", ErrRange, n, r.off, Words(r.data))
		return false
	}
	return true
}

// Word reads one signed word.
func (r *Reader) Word() int32 {
	if !r.fits(1) {
		return 0
	}
	v := Load(r.data, r.off)
	r.off++
	return v
}

// Uint32s fills dst.
func (r *Reader) Uint32s(dst []uint32) {
	if !r.fits(len(dst)) {
		return
	}
	b := r.data[r.off*WordSize:]
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(b[i*WordSize:])
	}
	r.off += len(dst)
}

// Skip advances n words.
func (r *Reader) Skip(n int) {
	if r.fits(n) {
		r.off += n
	}
}

// Offset returns the index of the next word.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) Err() error { return r.err }

// Writer writes consecutive words in place. The first out-of-range write sets
// Err and later writes are ignored.
type Writer struct {
	data []byte
	off  int
	err  error
}

func NewWriter(data []byte, word int) *Writer {
	return &Writer{data: data, off: word}
}

func (w *Writer) fits(n int) bool {
	if w.err != nil {
		return false
	}
	if n < 0 || (w.off+n)*WordSize > len(w.data) {
		w.err = fmt.Errorf("%w: %d words at word %d of %d", ErrRange, n, w.off, Words(w.data))
		return false
	}
	return true
}

func (w *Writer) Word(v int32) {
	if !w.fits(1) {
		return
	}
	Store(w.data, w.off, v)
	w.off++
}

func (w *Writer) Uint32s(src []uint32) {
	if !w.fits(len(src)) {
		return
	}
	b := w.data[w.off*WordSize:]
	for i, v := range src {
		binary.LittleEndian.PutUint32(b[i*WordSize:], v)
	}
	w.off += len(src)
}

func (w *Writer) Offset() int { return w.off }

func (w *Writer) Err() error { return w.err }
