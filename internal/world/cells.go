package world

type cell struct{ x, y int }

// cellIndex tracks which actors stand on which cell.
type cellIndex struct {
	cells map[cell]map[*Actor]struct{}
}

func newCellIndex() cellIndex {
	return cellIndex{cells: make(map[cell]map[*Actor]struct{})}
}

func (g *cellIndex) add(a *Actor, x, y int) {
	k := cell{x, y}
	set := g.cells[k]
	if set == nil {
		set = make(map[*Actor]struct{})
		g.cells[k] = set
	}
	set[a] = struct{}{}
}

func (g *cellIndex) remove(a *Actor, x, y int) {
	k := cell{x, y}
	if set := g.cells[k]; set != nil {
		delete(set, a)
		if len(set) == 0 {
			delete(g.cells, k)
		}
	}
}

func (g *cellIndex) move(a *Actor, oldX, oldY, newX, newY int) {
	if oldX == newX && oldY == newY {
		return
	}
	g.remove(a, oldX, oldY)
	g.add(a, newX, newY)
}

// near calls fn for each actor within Chebyshev distance r of (x, y).
func (g *cellIndex) near(x, y, r int, fn func(*Actor)) {
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for a := range g.cells[cell{x + dx, y + dy}] {
				fn(a)
			}
		}
	}
}
