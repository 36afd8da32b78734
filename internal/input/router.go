package input

import "go.uber.org/zap"

// Component stands in for the GUI component that events originate from.
type Component struct {
	Name string
}

// DummySource is the source of every synthetic mouse event. It exists only so
// that the source is never nil.
var DummySource = &Component{Name: "world-canvas"}

// MouseEvent is a mouse record as seen by listeners.
type MouseEvent struct {
	Source     *Component
	X, Y       int
	Button     int
	ClickCount int
}

type KeyboardManager interface {
	PressKey(k Key)
	ReleaseKey(k Key)
}

type MouseManager interface {
	MouseClicked(e MouseEvent)
	MousePressed(e MouseEvent)
	MouseReleased(e MouseEvent)
	MouseDragged(e MouseEvent)
	MouseMoved(e MouseEvent)
}

// Sink receives the records drained from one frame window.
type Sink interface {
	Dispatch(keys []KeyRecord, mouse []MouseRecord)
}

// Router dispatches drained records to the keyboard and mouse managers, key
// records first, each stream in source order.
type Router struct {
	keyboard KeyboardManager
	mouse    MouseManager
	log      *zap.Logger
}

func NewRouter(kb KeyboardManager, m MouseManager, log *zap.Logger) *Router {
	return &Router{keyboard: kb, mouse: m, log: log.Named("input")}
}

func (r *Router) Dispatch(keys []KeyRecord, mouse []MouseRecord) {
	for _, k := range keys {
		switch k.Kind {
		case KeyDown:
			r.keyboard.PressKey(k.Key)
		case KeyUp:
			r.keyboard.ReleaseKey(k.Key)
		default:
			r.log.Warn("unexpected key record", zap.Stringer("kind", k.Kind))
		}
	}
	for _, m := range mouse {
		e := MouseEvent{
			Source:     DummySource,
			X:          int(m.X),
			Y:          int(m.Y),
			Button:     int(m.Button),
			ClickCount: int(m.ClickCount),
		}
		switch m.Kind {
		case MouseClicked:
			r.mouse.MouseClicked(e)
		case MousePressed:
			r.mouse.MousePressed(e)
		case MouseReleased:
			r.mouse.MouseReleased(e)
		case MouseDragged:
			r.mouse.MouseDragged(e)
		case MouseMoved:
			r.mouse.MouseMoved(e)
		default:
			r.log.Warn("unexpected mouse record", zap.Stringer("kind", m.Kind))
		}
	}
}
