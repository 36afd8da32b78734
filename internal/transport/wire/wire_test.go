package wire

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLittleEndianWords(t *testing.T) {
	buf := make([]byte, 8)
	Store(buf, 1, -2)
	if diff := cmp.Diff([]byte{0, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}, buf); diff != "" {
		t.Errorf("bytes (-want +got):\n%s", diff)
	}
	if got := Load(buf, 1); got != -2 {
		t.Errorf("Load = %d", got)
	}
}

func TestWriterReader(t *testing.T) {
	buf := make([]byte, 6*WordSize)
	w := NewWriter(buf, 1)
	w.Word(7)
	w.Uint32s([]uint32{0xff112233, 1, 2})
	if w.Err() != nil || w.Offset() != 5 {
		t.Fatalf("err=%v offset=%d", w.Err(), w.Offset())
	}

	r := NewReader(buf, 1)
	if r.Word() != 7 {
		t.Error("first word")
	}
	pix := make([]uint32, 3)
	r.Uint32s(pix)
	if diff := cmp.Diff([]uint32{0xff112233, 1, 2}, pix); diff != "" {
		t.Errorf("pixels (-want +got):\n%s", diff)
	}
}

func TestOutOfRangeIsSticky(t *testing.T) {
	buf := make([]byte, 2*WordSize)
	w := NewWriter(buf, 1)
	w.Uint32s([]uint32{1, 2})
	w.Word(3)
	if !errors.Is(w.Err(), ErrRange) {
		t.Fatalf("err = %v, want ErrRange", w.Err())
	}
	if Load(buf, 1) != 0 {
		t.Error("partial write happened")
	}

	r := NewReader(buf, 0)
	r.Skip(5)
	if r.Word() != 0 || !errors.Is(r.Err(), ErrRange) {
		t.Errorf("read after overrun: err=%v", r.Err())
	}
}
