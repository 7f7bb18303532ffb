package cellpool

// Stats is a point-in-time snapshot of a pool's shape and its
// cumulative operation counters.
type Stats struct {
	// CellSize is the fixed size of each cell in bytes.
	CellSize int
	// Count is the number of addressable cells.
	Count int
	// Capacity is the byte length of the backing buffer.
	Capacity int
	// Marked is the number of cells the most recent mark pass reached.
	Marked int
	// Fixed reports whether the pool is backed by a caller-owned arena
	// and can never grow.
	Fixed bool

	// Allocs counts cells handed out by Alloc.
	Allocs uint64
	// GCCycles counts mark phases, both Alloc-triggered and forced.
	GCCycles uint64
	// Grows counts backing-buffer doublings.
	Grows uint64
	// Swept counts cells reclaimed by sweeping.
	Swept uint64
	// Finalized counts free-callback invocations, including the final
	// walk done by Release.
	Finalized uint64
}

// Stats returns a snapshot of the pool's counters. Safe to call at any
// time outside the pool's callbacks.
func (p *Pool) Stats() Stats {
	return Stats{
		CellSize:  p.cellSize,
		Count:     p.count,
		Capacity:  len(p.raw),
		Marked:    p.marked,
		Fixed:     p.mem == nil,
		Allocs:    p.allocs,
		GCCycles:  p.gcCycles,
		Grows:     p.grows,
		Swept:     p.swept,
		Finalized: p.finalized,
	}
}
