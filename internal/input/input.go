// Package input carries key and mouse events from the viewer process to the
// managers in the process running the world.
package input

import "fmt"

// Kind identifies an input record. The values are part of the shared memory
// layout and must not change.
type Kind int32

const (
	KeyDown       Kind = 1
	KeyUp         Kind = 2
	MouseClicked  Kind = 3
	MousePressed  Kind = 4
	MouseReleased Kind = 5
	MouseDragged  Kind = 6
	MouseMoved    Kind = 7
)

func (k Kind) IsKey() bool   { return k == KeyDown || k == KeyUp }
func (k Kind) IsMouse() bool { return k >= MouseClicked && k <= MouseMoved }

func (k Kind) String() string {
	switch k {
	case KeyDown:
		return "KEY_DOWN"
	case KeyUp:
		return "KEY_UP"
	case MouseClicked:
		return "MOUSE_CLICKED"
	case MousePressed:
		return "MOUSE_PRESSED"
	case MouseReleased:
		return "MOUSE_RELEASED"
	case MouseDragged:
		return "MOUSE_DRAGGED"
	case MouseMoved:
		return "MOUSE_MOVED"
	default:
		return fmt.Sprintf("Kind(%d)", int32(k))
	}
}

// Mouse buttons.
const (
	ButtonNone   = 0
	ButtonLeft   = 1
	ButtonMiddle = 2
	ButtonRight  = 3
)

// Shared memory size of one record, in 32-bit words.
const (
	KeyRecordWords   = 2
	MouseRecordWords = 5
)

// KeyRecord is one key event. Its shared memory form is (kind, key).
type KeyRecord struct {
	Kind Kind
	Key  Key
}

// MouseRecord is one mouse event in world pixels. Its shared memory form is
// (kind, x, y, button, clickCount).
type MouseRecord struct {
	Kind       Kind
	X, Y       int32
	Button     int32
	ClickCount int32
}
