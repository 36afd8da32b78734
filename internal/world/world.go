// Package world holds the actors of a running scenario and the lock that
// separates the simulation, which mutates them, from the painter, which reads
// them.
package world

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync/atomic"
)

var (
	ErrInWorld    = errors.New("actor is already in a world")
	ErrNotInWorld = errors.New("actor is not in this world")
)

// Behavior is the per-tick step of an actor.
type Behavior interface {
	Act(ctx context.Context, a *Actor) error
}

// BehaviorFunc adapts a function to Behavior.
type BehaviorFunc func(ctx context.Context, a *Actor) error

func (f BehaviorFunc) Act(ctx context.Context, a *Actor) error { return f(ctx, a) }

// WorldBehavior is the per-tick step of the world itself, run before the
// actors.
type WorldBehavior interface {
	Act(ctx context.Context, w *World) error
}

// Label is a text overlay anchored at a cell centre.
type Label struct {
	Text  string
	X, Y  int
	Color color.RGBA
}

// World is a grid of cells holding actors in insertion order. Actor
// membership and actor state change only under the write side of Lock. The
// painter reads under the read side.
type World struct {
	name          string
	width, height int
	cellSize      int

	lock *Lock

	background      color.RGBA
	backgroundImage image.Image
	behavior        WorldBehavior

	actors     []*Actor
	ids        idPool
	cells      cellIndex
	labels     []Label
	paintOrder map[string]int
	insertSeq  uint64
	paintSeq   atomic.Uint64
}

// New returns an empty world of width×height cells of cellSize pixels.
func New(name string, width, height, cellSize int) (*World, error) {
	if width <= 0 || height <= 0 || cellSize <= 0 {
		return nil, fmt.Errorf("world %s: invalid size %dx%d cell %d", name, width, height, cellSize)
	}
	return &World{
		name:       name,
		width:      width,
		height:     height,
		cellSize:   cellSize,
		lock:       NewLock(),
		background: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		cells:      newCellIndex(),
	}, nil
}

func (w *World) Name() string { return w.name }
func (w *World) Width() int { return w.width }
func (w *World) Height() int { return w.height }
func (w *World) CellSize() int { return w.cellSize }
func (w *World) Lock() *Lock { return w.lock }
func (w *World) PixelWidth() int { return w.width * w.cellSize }
func (w *World) PixelHeight() int { return w.height * w.cellSize }

func (w *World) Background() color.RGBA { return w.background }
func (w *World) SetBackground(c color.RGBA) { w.background = c }
func (w *World) BackgroundImage() image.Image { return w.backgroundImage }
func (w *World) SetBackgroundImage(img image.Image) { w.backgroundImage = img }
func (w *World) Behavior() WorldBehavior { return w.behavior }
func (w *World) SetBehavior(b WorldBehavior) { w.behavior = b }

// Add places a in the world at (x, y), clamped to the grid.
func (w *World) Add(a *Actor, x, y int) error {
	if a.world != nil {
		return ErrInWorld
	}
	w.insertSeq++
	a.world = w
	a.id = w.ids.create()
	a.insertSeq = w.insertSeq
	a.x, a.y = w.clamp(x, y)
	w.actors = append(w.actors, a)
	w.cells.add(a, a.x, a.y)
	return nil
}

// Remove takes a out of the world. Its ID goes stale.
func (w *World) Remove(a *Actor) error {
	if a.world != w {
		return ErrNotInWorld
	}
	for i, b := range w.actors {
		if b == a {
			w.actors = append(w.actors[:i], w.actors[i+1:]...)
			break
		}
	}
	w.cells.remove(a, a.x, a.y)
	w.ids.destroy(a.id)
	a.world = nil
	a.id = 0
	return nil
}

// Actors returns a copy of the actor list in insertion order.
func (w *World) Actors() []*Actor {
	return append([]*Actor(nil), w.actors...)
}

func (w *World) NumActors() int { return len(w.actors) }

// Actor returns the live actor with the given ID.
func (w *World) Actor(id ActorID) (*Actor, bool) {
	if !w.ids.alive(id) {
		return nil, false
	}
	for _, a := range w.actors {
		if a.id == id {
			return a, true
		}
	}
	return nil, false
}

// ObjectsAt returns the actors on cell (x, y), optionally only of kind, in
// insertion order.
func (w *World) ObjectsAt(x, y int, kind string) []*Actor {
	return w.InRange(x, y, 0, kind)
}

// InRange returns the actors within Chebyshev distance r of (x, y).
func (w *World) InRange(x, y, r int, kind string) []*Actor {
	var out []*Actor
	w.cells.near(x, y, r, func(a *Actor) {
		if kind == "" || a.kind == kind {
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].insertSeq < out[j].insertSeq })
	return out
}

// ShowText sets the label at cell (x, y). Empty text removes it.
func (w *World) ShowText(text string, x, y int) {
	for i, l := range w.labels {
		if l.X == x && l.Y == y {
			if text == "" {
				w.labels = append(w.labels[:i], w.labels[i+1:]...)
			} else {
				w.labels[i].Text = text
			}
			return
		}
	}
	if text != "" {
		w.labels = append(w.labels, Label{Text: text, X: x, Y: y, Color: color.RGBA{A: 255}})
	}
}

// Labels returns a copy of the text overlays.
func (w *World) Labels() []Label {
	return append([]Label(nil), w.labels...)
}

// SetPaintOrder makes actors of the listed kinds paint on top of all others,
// the first kind topmost.
func (w *World) SetPaintOrder(kinds ...string) {
	w.paintOrder = make(map[string]int, len(kinds))
	for i, k := range kinds {
		w.paintOrder[k] = len(kinds) - i
	}
}

// PaintOrder returns the actors bottom to top. Within one paint rank actors
// keep insertion order. Caller holds the read or write lock.
func (w *World) PaintOrder() []*Actor {
	out := w.Actors()
	sort.SliceStable(out, func(i, j int) bool {
		return w.paintOrder[out[i].kind] < w.paintOrder[out[j].kind]
	})
	return out
}

// StampPaint gives each actor, in order, the next paint sequence number. The
// counter is shared by all frames of the world, so an actor's LastPaintSeq
// strictly increases from frame to frame.
func (w *World) StampPaint(actors []*Actor) {
	for _, a := range actors {
		a.lastPaintSeq.Store(w.paintSeq.Add(1))
	}
}

func (w *World) clamp(x, y int) (int, int) {
	return clampInt(x, 0, w.width-1), clampInt(y, 0, w.height-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
