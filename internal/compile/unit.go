package compile

import (
	"fmt"
)

// State is the compilation state of a unit.
type State int

const (
	StateNormal    State = iota // compiled and up to date
	StateInvalid                // needs compiling
	StateCompiling              // reported as START, not yet END
	StateQueued                 // on a pending job, not yet START
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateInvalid:
		return "INVALID"
	case StateCompiling:
		return "COMPILING"
	case StateQueued:
		return "QUEUED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Unit is one compilable source file. Its state fields are owned by the
// coordinator's worker goroutine.
type Unit struct {
	Name   string
	Source string // source path
	Output string // compiled output path

	// Association is a companion unit recompiled quietly whenever this unit
	// is compiled on its own.
	Association *Unit

	State State

	index      int
	deps       []*Unit
	dependents []*Unit

	// Transient SCC search fields.
	dfn, link int
	onStack   bool
	queued    bool
}

// DependsOn returns the units this unit depends on, in declaration order.
func (u *Unit) DependsOn() []*Unit { return u.deps }

// Dependents returns the reverse-dependency set.
func (u *Unit) Dependents() []*Unit { return u.dependents }

// Queued reports whether the unit is waiting on a pending or running job.
func (u *Unit) Queued() bool { return u.queued }

func (u *Unit) source() Source { return Source{Name: u.Name, Path: u.Source} }

// ClassGraph is the ordered set of units and their static dependencies.
// Iteration order is insertion order.
type ClassGraph struct {
	units  []*Unit
	byName map[string]*Unit
}

func NewClassGraph() *ClassGraph {
	return &ClassGraph{byName: make(map[string]*Unit)}
}

// Add inserts a new unit in INVALID state.
func (g *ClassGraph) Add(name, source, output string) (*Unit, error) {
	if _, dup := g.byName[name]; dup {
		return nil, fmt.Errorf("duplicate unit %q", name)
	}
	u := &Unit{
		Name:   name,
		Source: source,
		Output: output,
		State:  StateInvalid,
		index:  len(g.units),
	}
	g.units = append(g.units, u)
	g.byName[name] = u
	return u, nil
}

// Depend records that from depends on to.
func (g *ClassGraph) Depend(from, to string) error {
	f, ok := g.byName[from]
	if !ok {
		return fmt.Errorf("unknown unit %q", from)
	}
	t, ok := g.byName[to]
	if !ok {
		return fmt.Errorf("unit %q depends on unknown unit %q", from, to)
	}
	for _, d := range f.deps {
		if d == t {
			return nil
		}
	}
	f.deps = append(f.deps, t)
	t.dependents = append(t.dependents, f)
	return nil
}

// Associate makes companion the association of unit.
func (g *ClassGraph) Associate(unit, companion string) error {
	u, ok := g.byName[unit]
	if !ok {
		return fmt.Errorf("unknown unit %q", unit)
	}
	c, ok := g.byName[companion]
	if !ok {
		return fmt.Errorf("unit %q associated with unknown unit %q", unit, companion)
	}
	u.Association = c
	return nil
}

func (g *ClassGraph) Unit(name string) (*Unit, bool) {
	u, ok := g.byName[name]
	return u, ok
}

// Units returns the units in stable iteration order.
func (g *ClassGraph) Units() []*Unit { return g.units }

func (g *ClassGraph) Len() int { return len(g.units) }

// Invalidate marks u and every unit that transitively depends on it INVALID.
// Units on a pending job are left alone.
func (g *ClassGraph) Invalidate(u *Unit) {
	seen := map[*Unit]bool{}
	work := []*Unit{u}
	for len(work) > 0 {
		x := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[x] {
			continue
		}
		seen[x] = true
		if !x.queued {
			x.State = StateInvalid
		}
		work = append(work, x.dependents...)
	}
}
