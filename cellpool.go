// Package cellpool implements a fixed-cell mark-and-sweep object pool:
// a garbage-collected arena of same-sized byte cells addressed by small
// stable integer IDs.
//
// A pool hands out cells from one contiguous buffer and reclaims
// unreachable ones on demand. Reachability is the client's business: a
// mark callback walks the client's roots and calls [Pool.Mark] on every
// cell it can reach, and everything left unmarked is garbage. Cells
// reference each other by ID rather than by pointer, so cyclic
// structures need no special handling: the markbit is the visited set.
//
// Pointers returned by [Pool.Get] borrow into the backing buffer and go
// stale at the next [Pool.Alloc] or [Pool.ForceGC], because a growable
// pool may relocate its buffer. Persist IDs, not pointers.
//
// Pools are not safe for concurrent use.
package cellpool

import "github.com/pkg/errors"

// ptrSize is the platform pointer size in bytes.
const ptrSize = 4 << (^uintptr(0) >> 63)

// Pool is a garbage-collected arena of fixed-size cells. The zero value
// is not usable; construct one with [New] or [NewFixed].
//
// The backing buffer holds the cell array followed by a packed markbit
// vector, one bit per cell. A lazy sweep cursor remembers where the
// last reclamation scan stopped so consecutive Allocs do not rescan
// live prefixes.
type Pool struct {
	cellSize int
	count    int
	marked   int
	sweep    int
	raw      []byte // cells at [0, markOff), markbits at [markOff, markOff+markBytes(count))
	markOff  int

	mem  MemoryFunc // nil for fixed-arena pools
	mark MarkFunc
	free FreeFunc

	busy bool // a callback is running; rejects re-entrant Alloc/ForceGC/Release

	allocs    uint64
	gcCycles  uint64
	grows     uint64
	swept     uint64
	finalized uint64
}

// markBytes is the byte length of the markbit region for count cells.
func markBytes(count int) int {
	return count/8 + 1
}

// fitCount returns the largest cell count whose cells and markbits fit
// in avail bytes. None is reserved and never becomes a valid ID.
func fitCount(avail, cellSize int) int {
	count := avail / cellSize
	if limit := uint64(None); uint64(count) >= limit {
		count = int(limit - 1)
	}
	for count > 0 && count*cellSize+markBytes(count) > avail {
		count--
	}
	return count
}

func checkCellSize(cellSize int) error {
	if cellSize < idSize {
		return errors.Wrapf(ErrCellSize, "cell size %d, ID width %d", cellSize, idSize)
	}
	if cellSize%ptrSize != 0 {
		return errors.Wrapf(ErrCellAlign, "cell size %d, pointer size %d", cellSize, ptrSize)
	}
	return nil
}

// New constructs a growable pool of startCount cells of cellSize bytes
// each. The backing buffer is obtained through mem, which is also used
// to double the buffer when the growth heuristic fires and to release
// it on Release. markFn is required; freeFn may be nil.
func New(cellSize, startCount int, mem MemoryFunc, markFn MarkFunc, freeFn FreeFunc) (*Pool, error) {
	if err := checkCellSize(cellSize); err != nil {
		return nil, err
	}
	if startCount < 1 || uint64(startCount) >= uint64(None) {
		return nil, errors.Wrapf(ErrBadCount, "%d", startCount)
	}
	if mem == nil {
		return nil, ErrNilMemory
	}
	if markFn == nil {
		return nil, ErrNilMark
	}

	rawSize := cellSize*startCount + markBytes(startCount)
	raw, err := provision(mem, nil, 0, rawSize)
	if err != nil {
		return nil, errors.Wrap(err, "provisioning backing buffer")
	}
	p := &Pool{
		cellSize: cellSize,
		count:    startCount,
		raw:      raw[:rawSize],
		markOff:  cellSize * startCount,
		mem:      mem,
		mark:     markFn,
		free:     freeFn,
	}
	clear(p.raw)
	return p, nil
}

// NewFixed constructs a pool inside the caller-owned buffer arena. The
// pool never grows and never frees the buffer; it partitions the arena
// into as many cellSize-byte cells as will fit alongside their
// markbits. The arena must hold at least two cells' worth of bytes.
// markFn is required; freeFn may be nil.
func NewFixed(cellSize int, arena []byte, markFn MarkFunc, freeFn FreeFunc) (*Pool, error) {
	if err := checkCellSize(cellSize); err != nil {
		return nil, err
	}
	if arena == nil {
		return nil, ErrNilArena
	}
	if len(arena) < 2*cellSize {
		return nil, errors.Wrapf(ErrArenaTooSmall, "%d bytes", len(arena))
	}
	if markFn == nil {
		return nil, ErrNilMark
	}

	count := fitCount(len(arena), cellSize)
	if count < 1 {
		return nil, errors.Wrapf(ErrArenaTooSmall, "%d bytes", len(arena))
	}
	p := &Pool{
		cellSize: cellSize,
		count:    count,
		raw:      arena,
		markOff:  cellSize * count,
		mark:     markFn,
		free:     freeFn,
	}
	clear(p.raw)
	return p, nil
}

// Count returns the number of cells currently addressable. It never
// decreases while the pool is in use; Release sets it to zero.
func (p *Pool) Count() int {
	return p.count
}

// CellSize returns the fixed size of each cell in bytes.
func (p *Pool) CellSize() int {
	return p.cellSize
}

// Mark records cell id as reachable during the current mark phase.
// Marking is idempotent, so reachability traversals need no visited set
// of their own. Out-of-range IDs (including None) are ignored: mark
// callbacks legitimately walk structures containing sentinel links.
func (p *Pool) Mark(id ID) {
	if uint64(id) >= uint64(p.count) {
		return
	}
	idx := p.markOff + int(id)/8
	bit := byte(1) << (id % 8)
	if p.raw[idx]&bit != 0 {
		return
	}
	p.raw[idx] |= bit
	p.marked++
}

// Get returns the bytes of cell id, or nil when id is out of range. The
// slice is exactly CellSize bytes and aliases the backing buffer: it is
// only valid until the next Alloc or ForceGC, either of which may move
// the buffer.
func (p *Pool) Get(id ID) []byte {
	if uint64(id) >= uint64(p.count) {
		return nil
	}
	off := int(id) * p.cellSize
	return p.raw[off : off+p.cellSize : off+p.cellSize]
}

// Release finalizes every cell and, for growable pools, returns the
// backing buffer through the memory callback. The pool must not be used
// afterwards. Fixed-arena pools keep their caller-owned buffer.
func (p *Pool) Release() {
	p.enter("Release")
	defer p.leave()
	if p.free != nil {
		for i := 0; i < p.count; i++ {
			p.callFree(ID(i))
		}
	}
	if p.mem != nil {
		_, _ = p.mem(p.raw, len(p.raw), 0)
	}
	p.raw = nil
	p.count = 0
	p.markOff = 0
	p.sweep = 0
}

func (p *Pool) enter(op string) {
	if p.busy {
		panic("cellpool: " + op + " called from inside a pool callback")
	}
	p.busy = true
}

func (p *Pool) leave() {
	p.busy = false
}

// callFree runs the finalizer with the re-entrancy guard held.
func (p *Pool) callFree(id ID) {
	p.finalized++
	p.free(p, id)
}

// runMark clears the bookkeeping for a new mark phase and hands control
// to the client's reachability traversal.
func (p *Pool) runMark() error {
	p.gcCycles++
	p.marked = 0
	if err := p.mark(p); err != nil {
		return errors.Wrap(err, "mark callback")
	}
	return nil
}
