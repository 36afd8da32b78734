package world

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func newWorld(t *testing.T) *World {
	t.Helper()
	w, err := New("test", 10, 8, 20)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func kinds(actors []*Actor) []string {
	var out []string
	for _, a := range actors {
		out = append(out, a.Kind())
	}
	return out
}

func TestWorld_AddClampsAndOrders(t *testing.T) {
	w := newWorld(t)
	a := NewActor("rocket", nil, nil)
	b := NewActor("asteroid", nil, nil)
	w.Add(a, -3, 100)
	w.Add(b, 4, 4)
	if a.X() != 0 || a.Y() != 7 {
		t.Errorf("clamped location = (%d,%d), want (0,7)", a.X(), a.Y())
	}
	if diff := cmp.Diff([]string{"rocket", "asteroid"}, kinds(w.Actors())); diff != "" {
		t.Errorf("actors (-want +got):\n%s", diff)
	}
	if err := w.Add(a, 1, 1); !errors.Is(err, ErrInWorld) {
		t.Errorf("second Add err = %v", err)
	}
	if w.PixelWidth() != 200 || w.PixelHeight() != 160 {
		t.Errorf("pixel size = %dx%d", w.PixelWidth(), w.PixelHeight())
	}
}

func TestWorld_RemoveMakesIDStale(t *testing.T) {
	w := newWorld(t)
	a := NewActor("a", nil, nil)
	w.Add(a, 1, 1)
	id := a.ID()
	if got, ok := w.Actor(id); !ok || got != a {
		t.Fatal("lookup of live actor failed")
	}
	if err := w.Remove(a); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.Actor(id); ok {
		t.Error("stale ID still resolves")
	}
	b := NewActor("b", nil, nil)
	w.Add(b, 1, 1)
	if b.ID() == id || b.ID().Index() != id.Index() {
		t.Errorf("reused slot: old %x new %x", id, b.ID())
	}
	if err := w.Remove(a); !errors.Is(err, ErrNotInWorld) {
		t.Errorf("double Remove err = %v", err)
	}
}

func TestActor_RotationAndMove(t *testing.T) {
	w := newWorld(t)
	a := NewActor("a", nil, nil)
	w.Add(a, 5, 5)
	for _, tt := range []struct{ set, want int }{{0, 0}, {360, 0}, {-90, 270}, {725, 5}} {
		a.SetRotation(tt.set)
		if a.Rotation() != tt.want {
			t.Errorf("SetRotation(%d) = %d, want %d", tt.set, a.Rotation(), tt.want)
		}
	}
	a.SetRotation(90)
	a.Move(2)
	if a.X() != 5 || a.Y() != 7 {
		t.Errorf("after move = (%d,%d), want (5,7)", a.X(), a.Y())
	}
	if !a.AtEdge() {
		t.Error("AtEdge = false on bottom row")
	}
}

func TestWorld_ObjectsAt(t *testing.T) {
	w := newWorld(t)
	a := NewActor("rock", nil, nil)
	b := NewActor("ship", nil, nil)
	c := NewActor("rock", nil, nil)
	w.Add(a, 2, 2)
	w.Add(b, 2, 2)
	w.Add(c, 3, 3)
	if diff := cmp.Diff([]string{"rock", "ship"}, kinds(w.ObjectsAt(2, 2, ""))); diff != "" {
		t.Errorf("ObjectsAt (-want +got):\n%s", diff)
	}
	if got := b.Intersecting("rock"); len(got) != 1 || got[0] != a {
		t.Errorf("Intersecting = %v", kinds(got))
	}
	c.SetLocation(2, 2)
	if got := len(w.ObjectsAt(3, 3, "")); got != 0 {
		t.Errorf("%d actors left on old cell", got)
	}
	if got := len(w.InRange(0, 0, 2, "rock")); got != 2 {
		t.Errorf("InRange = %d rocks, want 2", got)
	}
}

func TestWorld_PaintOrderAndStamp(t *testing.T) {
	w := newWorld(t)
	for _, k := range []string{"bg", "ship", "bullet", "bg2", "ship"} {
		w.Add(NewActor(k, nil, nil), 0, 0)
	}
	w.SetPaintOrder("bullet", "ship")
	order := w.PaintOrder()
	if diff := cmp.Diff([]string{"bg", "bg2", "ship", "ship", "bullet"}, kinds(order)); diff != "" {
		t.Errorf("paint order (-want +got):\n%s", diff)
	}

	last := map[*Actor]uint64{}
	for frame := 0; frame < 3; frame++ {
		order := w.PaintOrder()
		w.StampPaint(order)
		prev := uint64(0)
		for _, a := range order {
			if a.LastPaintSeq() <= prev || a.LastPaintSeq() <= last[a] {
				t.Fatalf("frame %d: paint seq not increasing", frame)
			}
			prev = a.LastPaintSeq()
			last[a] = prev
		}
	}
}

func TestWorld_Labels(t *testing.T) {
	w := newWorld(t)
	w.ShowText("score 1", 1, 0)
	w.ShowText("lives 3", 8, 0)
	w.ShowText("score 2", 1, 0)
	w.ShowText("", 8, 0)
	got := w.Labels()
	if len(got) != 1 || got[0].Text != "score 2" {
		t.Errorf("labels = %+v", got)
	}
}

func TestLock_TryRLockTimesOutWhileWriting(t *testing.T) {
	l := NewLock()
	if err := l.Lock(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !l.WriteHeld() {
		t.Error("WriteHeld = false while locked")
	}
	start := time.Now()
	if err := l.TryRLock(10 * time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("TryRLock gave up early")
	}
	l.Unlock()
	if err := l.TryRLock(10 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := l.TryRLock(10 * time.Millisecond); err != nil {
		t.Fatal("second reader blocked")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := l.Lock(ctx); err == nil {
		t.Fatal("writer acquired while readers hold the lock")
	}
	l.RUnlock()
	l.RUnlock()
}

type recListener struct {
	mu     sync.Mutex
	events []string
}

func (r *recListener) WorldCreated(w *World) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "created "+w.Name())
}

func (r *recListener) WorldRemoved(w *World) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "removed "+w.Name())
}

func TestHandler_Lifecycle(t *testing.T) {
	h := NewHandler(zap.NewNop())
	rec := &recListener{}
	h.AddListener(rec)
	a, _ := New("a", 1, 1, 1)
	b, _ := New("b", 1, 1, 1)
	h.Install(a)
	h.Install(b)
	h.Remove()
	h.Remove()
	want := []string{"created a", "removed a", "created b", "removed b"}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if h.World() != nil {
		t.Error("world still installed")
	}
}
