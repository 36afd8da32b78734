package world

import (
	"image"
	"math"
	"sync/atomic"
)

// Actor is a participant of a world. Its fields change only under the world
// write lock.
type Actor struct {
	id        ActorID
	kind      string
	world     *World
	x, y      int
	rotation  int
	image     image.Image
	behavior  Behavior
	insertSeq uint64

	lastPaintSeq atomic.Uint64
}

// NewActor returns an actor of kind that is not yet in a world.
func NewActor(kind string, img image.Image, b Behavior) *Actor {
	return &Actor{kind: kind, image: img, behavior: b}
}

func (a *Actor) ID() ActorID { return a.id }
func (a *Actor) Kind() string { return a.kind }
func (a *Actor) World() *World { return a.world }
func (a *Actor) X() int { return a.x }
func (a *Actor) Y() int { return a.y }
func (a *Actor) Rotation() int { return a.rotation }
func (a *Actor) Image() image.Image { return a.image }
func (a *Actor) SetImage(img image.Image) { a.image = img }
func (a *Actor) Behavior() Behavior { return a.behavior }
func (a *Actor) SetBehavior(b Behavior) { a.behavior = b }

// LastPaintSeq is the sequence number the actor got when last painted, zero
// if never.
func (a *Actor) LastPaintSeq() uint64 { return a.lastPaintSeq.Load() }

// SetLocation moves the actor, clamped to the world.
func (a *Actor) SetLocation(x, y int) {
	if a.world == nil {
		a.x, a.y = x, y
		return
	}
	nx, ny := a.world.clamp(x, y)
	a.world.cells.move(a, a.x, a.y, nx, ny)
	a.x, a.y = nx, ny
}

// SetRotation sets the rotation in degrees, normalised to [0, 360).
func (a *Actor) SetRotation(deg int) {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	a.rotation = deg
}

func (a *Actor) Turn(deg int) { a.SetRotation(a.rotation + deg) }

// Move steps distance cells in the facing direction. Rotation 0 faces east
// and angles grow clockwise.
func (a *Actor) Move(distance int) {
	rad := float64(a.rotation) * math.Pi / 180
	dx := int(math.Round(math.Cos(rad) * float64(distance)))
	dy := int(math.Round(math.Sin(rad) * float64(distance)))
	a.SetLocation(a.x+dx, a.y+dy)
}

// AtEdge reports whether the actor stands on the border of its world.
func (a *Actor) AtEdge() bool {
	w := a.world
	if w == nil {
		return false
	}
	return a.x == 0 || a.y == 0 || a.x == w.width-1 || a.y == w.height-1
}

// Intersecting returns the other actors on the same cell, optionally of kind.
func (a *Actor) Intersecting(kind string) []*Actor {
	if a.world == nil {
		return nil
	}
	var out []*Actor
	for _, b := range a.world.ObjectsAt(a.x, a.y, kind) {
		if b != a {
			out = append(out, b)
		}
	}
	return out
}
