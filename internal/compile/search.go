package compile

import "sort"

// searcher builds compile jobs from strongly connected components of the
// INVALID part of the dependency graph (Tarjan). It uses an explicit work
// stack so deep graphs cannot overflow the goroutine stack. Components are
// emitted dependencies-first.
type searcher struct {
	counter int
	emit    func(units []*Unit)
}

type searchFrame struct {
	u    *Unit
	next int
}

func eligible(u *Unit) bool {
	return u.State == StateInvalid && !u.queued
}

func (s *searcher) search(root *Unit) {
	if !eligible(root) {
		return
	}
	var (
		work  []searchFrame
		stack []*Unit
	)
	visit := func(u *Unit) {
		s.counter++
		u.queued = true
		u.dfn, u.link = s.counter, s.counter
		u.onStack = true
		stack = append(stack, u)
		work = append(work, searchFrame{u: u})
	}

	visit(root)
	for len(work) > 0 {
		f := &work[len(work)-1]
		t := f.u
		if f.next < len(t.deps) {
			u := t.deps[f.next]
			f.next++
			switch {
			case u.queued:
				// Pending on another component, or an ancestor on the stack.
				if u.onStack && u.dfn < t.link {
					t.link = u.dfn
				}
			case u.State == StateInvalid:
				visit(u)
			}
			continue
		}

		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := work[len(work)-1].u
			if t.link < parent.link {
				parent.link = t.link
			}
		}
		if t.link != t.dfn {
			continue
		}
		var component []*Unit
		for {
			x := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x.onStack = false
			component = append(component, x)
			if x == t {
				break
			}
		}
		sort.Slice(component, func(i, j int) bool {
			return component[i].index < component[j].index
		})
		s.emit(component)
	}
}
