package event

import (
	"reflect"
	"sync"
)

// Bus is a typed publish/subscribe hub. Publish delivers synchronously, on
// the publisher's goroutine, to handlers in subscription order. Topics marked
// with Retain keep their latest value and replay it to late subscribers.
// Deliveries on a sticky topic are serialized, so a handler never sees an
// older value after a newer one; its handlers must not publish to it.
type Bus struct {
	mu       sync.Mutex
	handlers map[reflect.Type][]any
	sticky   map[reflect.Type]*sync.Mutex
	retained map[reflect.Type]any
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[reflect.Type][]any),
		sticky:   make(map[reflect.Type]*sync.Mutex),
		retained: make(map[reflect.Type]any),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Retain marks events of type T as sticky.
func Retain[T any](b *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := typeOf[T](); b.sticky[t] == nil {
		b.sticky[t] = &sync.Mutex{}
	}
}

// deliveryLock locks the delivery mutex of t if t is sticky and returns the
// matching unlock.
func (b *Bus) deliveryLock(t reflect.Type) func() {
	b.mu.Lock()
	d := b.sticky[t]
	b.mu.Unlock()
	if d == nil {
		return func() {}
	}
	d.Lock()
	return d.Unlock
}

// Subscribe registers a handler for events of type T. If T is sticky and an
// event was already published, the handler receives it before Subscribe
// returns. The returned func removes the handler.
func Subscribe[T any](b *Bus, fn func(T)) (unsubscribe func()) {
	t := typeOf[T]()
	unlock := b.deliveryLock(t)
	b.mu.Lock()
	entry := &fn
	b.handlers[t] = append(b.handlers[t], entry)
	last, ok := b.retained[t]
	b.mu.Unlock()

	if ok {
		fn(last.(T))
	}
	unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		hs := b.handlers[t]
		for i, h := range hs {
			if h == any(entry) {
				b.handlers[t] = append(hs[:i:i], hs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to every handler subscribed to T.
func Publish[T any](b *Bus, event T) {
	t := typeOf[T]()
	unlock := b.deliveryLock(t)
	defer unlock()
	b.mu.Lock()
	if b.sticky[t] != nil {
		b.retained[t] = event
	}
	handlers := append([]any(nil), b.handlers[t]...)
	b.mu.Unlock()

	for _, h := range handlers {
		(*h.(*func(T)))(event)
	}
}

// Latest returns the retained value of a sticky topic.
func Latest[T any](b *Bus) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.retained[typeOf[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}
