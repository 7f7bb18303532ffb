package cellpool_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/moby/cellpool"
	"github.com/moby/cellpool/internal/listcell"
)

func markNone(*cellpool.Pool) error { return nil }

func markAll(p *cellpool.Pool) error {
	for i := 0; i < p.Count(); i++ {
		p.Mark(cellpool.ID(i))
	}
	return nil
}

// In the smallest valid fixed pool nothing is ever reachable, so every
// Alloc sweeps and returns the same cell.
func TestAllocSweepsSameCell(t *testing.T) {
	collections := 0
	p, err := cellpool.NewFixed(16, make([]byte, 32), markNone,
		func(_ *cellpool.Pool, id cellpool.ID) {
			assert.Check(t, is.Equal(cellpool.ID(0), id))
			collections++
		})
	assert.NilError(t, err)
	assert.Equal(t, 1, p.Count())

	for i := 0; i < 50; i++ {
		id, err := p.Alloc()
		assert.NilError(t, err)
		assert.Equal(t, cellpool.ID(0), id)
	}
	assert.Equal(t, 50, collections)
}

// Port of the classic linked-list scenario: cells kept reachable from
// the root chain survive arbitrary churn, cut-off cells get finalized.
func TestAllocLinkedSurvival(t *testing.T) {
	live := true
	freed := map[cellpool.ID]int{}
	p, err := cellpool.New(16, 5, cellpool.HeapMemory, listcell.ChainMarker(&live),
		func(_ *cellpool.Pool, id cellpool.ID) { freed[id]++ })
	assert.NilError(t, err)
	defer p.Release()

	count := p.Count()
	assert.Equal(t, 5, count)

	id, err := p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(0), id)
	assert.Check(t, is.DeepEqual(make([]byte, 16), p.Get(0)), "fresh root cell not zeroed")

	id, err = p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(1), id)
	listcell.Store(p.Get(0), listcell.Link{Next: 1}) // [0] -> [1]

	id, err = p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(2), id)
	listcell.Store(p.Get(1), listcell.Link{Next: 2}) // [0] -> [1] -> [2]

	// Churn unrooted cells to force collection cycles.
	for i := 0; i < count; i++ {
		_, err := p.Alloc()
		assert.NilError(t, err)
	}
	id, err = p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(4), id)
	listcell.Store(p.Get(1), listcell.Link{Next: 4}) // [0] -> [1] -> [4], 2 is garbage
	clear(freed) // ignore the finalizations done while cell 2 was handed out

	for i := 0; i < count; i++ {
		_, err := p.Alloc()
		assert.NilError(t, err)
	}
	assert.Check(t, freed[2] > 0, "unrooted cell 2 was never finalized")
	assert.Check(t, is.DeepEqual([]cellpool.ID{0, 1, 4}, listcell.Chain(p)))
	assert.Check(t, p.Count() >= 5)
}

// Continues the linked scenario: with the root flag off, a forced
// collection finalizes every cell exactly once, in ascending order, and
// the next Alloc starts over at cell 0.
func TestForceGCFullSweep(t *testing.T) {
	live := true
	var order []cellpool.ID
	p, err := cellpool.New(16, 5, cellpool.HeapMemory, listcell.ChainMarker(&live),
		func(_ *cellpool.Pool, id cellpool.ID) { order = append(order, id) })
	assert.NilError(t, err)
	defer p.Release()

	for i := 0; i < 3; i++ {
		id, err := p.Alloc()
		assert.NilError(t, err)
		if id > 0 {
			listcell.Store(p.Get(id-1), listcell.Link{Next: id})
		}
	}

	live = false
	order = order[:0] // ignore the finalizations done while allocating
	assert.NilError(t, p.ForceGC())

	want := []cellpool.ID{0, 1, 2, 3, 4}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("unexpected finalization order (-want +got):\n%s", diff)
	}

	id, err := p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(0), id)
}

// A 100k-cell chain kept fully reachable forces the pool to double
// repeatedly; IDs stay stable and the final collection reclaims all.
func TestAllocGrowthChain(t *testing.T) {
	const limit = 100000
	live := true
	freed := map[cellpool.ID]int{}
	p, err := cellpool.New(16, 2, cellpool.HeapMemory, listcell.ChainMarker(&live),
		func(_ *cellpool.Pool, id cellpool.ID) { freed[id]++ })
	assert.NilError(t, err)
	defer p.Release()
	assert.Equal(t, 2, p.Count())

	last, err := p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(0), last)

	prevCount := p.Count()
	for i := 0; i < limit; i++ {
		id, err := p.Alloc()
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		link := listcell.Load(p.Get(last))
		if link.Next != 0 {
			t.Fatalf("cell %d already linked to %d", last, link.Next)
		}
		link.Next = id
		listcell.Store(p.Get(last), link)
		if p.Count() < prevCount {
			t.Fatalf("count shrank from %d to %d", prevCount, p.Count())
		}
		prevCount = p.Count()
		last = id
	}
	assert.Check(t, p.Count() > limit)
	assert.Check(t, p.Stats().Grows > 0)

	live = false
	clear(freed)
	assert.NilError(t, p.ForceGC())
	for i := 0; i <= limit; i++ {
		if freed[cellpool.ID(i)] != 1 {
			t.Fatalf("cell %d finalized %d times", i, freed[cellpool.ID(i)])
		}
	}
	assert.Check(t, is.Len(freed, p.Count()), "every cell should be finalized once")
}

// The growth heuristic fires when at least three quarters of the cells
// survive marking, and stays quiet below that.
func TestAllocGrowHeuristic(t *testing.T) {
	t.Run("high survival grows", func(t *testing.T) {
		markSix := func(p *cellpool.Pool) error {
			for i := 0; i < 6; i++ {
				p.Mark(cellpool.ID(i))
			}
			return nil
		}
		p, err := cellpool.New(16, 8, cellpool.HeapMemory, markSix, nil)
		assert.NilError(t, err)
		defer p.Release()

		for i := 0; i < 8; i++ {
			_, err := p.Alloc()
			assert.NilError(t, err)
		}
		id, err := p.Alloc()
		assert.NilError(t, err)
		assert.Equal(t, cellpool.ID(6), id)
		assert.Check(t, is.Equal(16, p.Count()), "three-quarter survival should double the pool")
	})
	t.Run("low survival does not grow", func(t *testing.T) {
		markFive := func(p *cellpool.Pool) error {
			for i := 0; i < 5; i++ {
				p.Mark(cellpool.ID(i))
			}
			return nil
		}
		p, err := cellpool.New(16, 8, cellpool.HeapMemory, markFive, nil)
		assert.NilError(t, err)
		defer p.Release()

		for i := 0; i < 8; i++ {
			_, err := p.Alloc()
			assert.NilError(t, err)
		}
		id, err := p.Alloc()
		assert.NilError(t, err)
		assert.Equal(t, cellpool.ID(5), id)
		assert.Check(t, is.Equal(8, p.Count()))
	})
}

func TestAllocMarkCallbackFailure(t *testing.T) {
	errBoom := errors.New("mark failed")
	fail := true
	markFn := func(*cellpool.Pool) error {
		if fail {
			return errBoom
		}
		return nil
	}
	p, err := cellpool.New(16, 2, cellpool.HeapMemory, markFn, nil)
	assert.NilError(t, err)
	defer p.Release()

	for i := 0; i < 2; i++ {
		_, err := p.Alloc()
		assert.NilError(t, err)
	}
	id, err := p.Alloc()
	assert.Check(t, is.Equal(cellpool.None, id))
	assert.Check(t, is.ErrorIs(err, errBoom))

	assert.Check(t, is.ErrorIs(p.ForceGC(), errBoom))

	// The pool stays serviceable once the callback recovers.
	fail = false
	id, err = p.Alloc()
	assert.NilError(t, err)
	assert.Equal(t, cellpool.ID(0), id)
}

func TestAllocGrowFailure(t *testing.T) {
	mem := func(buf []byte, oldSize, newSize int) ([]byte, error) {
		if buf != nil && newSize != 0 {
			return nil, errors.New("out of memory")
		}
		return cellpool.HeapMemory(buf, oldSize, newSize)
	}
	p, err := cellpool.New(16, 4, mem, markAll, nil)
	assert.NilError(t, err)

	for i := 0; i < 4; i++ {
		_, err := p.Alloc()
		assert.NilError(t, err)
	}
	id, err := p.Alloc() // full survival wants to grow; the realloc fails
	assert.Check(t, is.Equal(cellpool.None, id))
	assert.Check(t, is.ErrorContains(err, "growing pool"))
	assert.Check(t, is.Equal(4, p.Count()))
}

func TestAllocPoolFull(t *testing.T) {
	p, err := cellpool.NewFixed(16, make([]byte, 64), markAll, nil)
	assert.NilError(t, err)
	assert.Equal(t, 3, p.Count())

	for i := 0; i < 3; i++ {
		_, err := p.Alloc()
		assert.NilError(t, err)
	}
	id, err := p.Alloc()
	assert.Check(t, is.Equal(cellpool.None, id))
	assert.Check(t, is.ErrorIs(err, cellpool.ErrPoolFull))
}

// The finalizer observes the cell's dying contents; the next occupant
// sees only zeroes.
func TestSweepZeroesAfterFinalizer(t *testing.T) {
	var lastSeen []byte
	p, err := cellpool.NewFixed(16, make([]byte, 32), markNone,
		func(p *cellpool.Pool, id cellpool.ID) {
			lastSeen = append([]byte(nil), p.Get(id)...)
		})
	assert.NilError(t, err)

	id, err := p.Alloc()
	assert.NilError(t, err)
	cell := p.Get(id)
	for i := range cell {
		cell[i] = 0xa5
	}

	id, err = p.Alloc()
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(bytesOf(0xa5, 16), lastSeen), "finalizer should see the dying contents")
	assert.Check(t, is.DeepEqual(make([]byte, 16), p.Get(id)))
}

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func BenchmarkAllocChurn(b *testing.B) {
	p, err := cellpool.New(16, 1024, cellpool.HeapMemory, markNone, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer p.Release()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := p.Alloc(); err != nil {
			b.Fatal(err)
		}
	}
}
