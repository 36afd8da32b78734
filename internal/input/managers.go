package input

import "sync"

// Keyboard tracks which keys are down and the last key typed.
type Keyboard struct {
	mu      sync.Mutex
	down    map[Key]bool
	lastKey Key
}

func NewKeyboard() *Keyboard {
	return &Keyboard{down: make(map[Key]bool)}
}

func (k *Keyboard) PressKey(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.down[key] = true
	k.lastKey = key
}

func (k *Keyboard) ReleaseKey(key Key) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.down, key)
}

func (k *Keyboard) IsDown(key Key) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.down[key]
}

// TakeKey returns the last key pressed since the previous call, or
// KeyUnknown.
func (k *Keyboard) TakeKey() Key {
	k.mu.Lock()
	defer k.mu.Unlock()
	key := k.lastKey
	k.lastKey = KeyUnknown
	return key
}

// MouseState is what happened to the mouse during one act.
type MouseState struct {
	Clicked, Pressed, Released, Dragged, Moved bool

	X, Y       int
	Button     int
	ClickCount int
}

// Mouse latches events per act: events arriving while actors act become
// visible after the next NewAct.
type Mouse struct {
	mu      sync.Mutex
	pending MouseState
	current MouseState
}

func (m *Mouse) record(e MouseEvent, mark func(*MouseState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mark(&m.pending)
	m.pending.X, m.pending.Y = e.X, e.Y
	m.pending.Button = e.Button
	m.pending.ClickCount = e.ClickCount
}

func (m *Mouse) MouseClicked(e MouseEvent) {
	m.record(e, func(s *MouseState) { s.Clicked = true })
}

func (m *Mouse) MousePressed(e MouseEvent) {
	m.record(e, func(s *MouseState) { s.Pressed = true })
}

func (m *Mouse) MouseReleased(e MouseEvent) {
	m.record(e, func(s *MouseState) { s.Released = true })
}

func (m *Mouse) MouseDragged(e MouseEvent) {
	m.record(e, func(s *MouseState) { s.Dragged = true })
}

func (m *Mouse) MouseMoved(e MouseEvent) {
	m.record(e, func(s *MouseState) { s.Moved = true })
}

// NewAct publishes the events gathered since the previous act.
func (m *Mouse) NewAct() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.pending
	// Position carries over, flags do not.
	m.pending = MouseState{X: m.pending.X, Y: m.pending.Y}
}

func (m *Mouse) State() MouseState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
