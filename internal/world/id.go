package world

// ActorID encodes a 32-bit slot index in the lower bits and a 32-bit
// generation in the upper bits. Removing an actor bumps the generation of its
// slot, so IDs held by user code go stale instead of aliasing a new actor.
type ActorID uint64

func newActorID(index, generation uint32) ActorID {
	return ActorID(uint64(generation)<<32 | uint64(index))
}

func (id ActorID) Index() uint32      { return uint32(id) }
func (id ActorID) Generation() uint32 { return uint32(id >> 32) }
func (id ActorID) IsZero() bool       { return id == 0 }

// idPool allocates actor IDs from a free list. Generations start at 1 so the
// zero ID is never handed out.
type idPool struct {
	generations []uint32
	freeList    []uint32
}

func (p *idPool) create() ActorID {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return newActorID(idx, p.generations[idx])
	}
	idx := uint32(len(p.generations))
	p.generations = append(p.generations, 1)
	return newActorID(idx, 1)
}

func (p *idPool) alive(id ActorID) bool {
	idx := id.Index()
	return int(idx) < len(p.generations) && p.generations[idx] == id.Generation()
}

func (p *idPool) destroy(id ActorID) {
	if !p.alive(id) {
		return
	}
	idx := id.Index()
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
}
