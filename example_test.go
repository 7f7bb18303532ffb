package cellpool_test

import (
	"fmt"

	"github.com/moby/cellpool"
)

func ExampleNew() {
	// The pool never frees a cell the mark callback can reach. Roots
	// live in the client; here a plain slice of IDs.
	var roots []cellpool.ID
	pool, err := cellpool.New(16, 4, cellpool.HeapMemory,
		func(p *cellpool.Pool) error {
			for _, id := range roots {
				p.Mark(id)
			}
			return nil
		}, nil)
	if err != nil {
		panic(err)
	}
	defer pool.Release()

	a, _ := pool.Alloc()
	roots = append(roots, a)

	// Burn through the rest of the pool without rooting anything.
	for i := 0; i < 3; i++ {
		_, _ = pool.Alloc()
	}

	// The pool is exhausted, so this allocation runs a collection:
	// everything except the rooted cell is garbage, and the first
	// reclaimed cell comes back.
	e, _ := pool.Alloc()
	fmt.Println("rooted:", a)
	fmt.Println("reused:", e, "count:", pool.Count())
	// Output:
	// rooted: 0
	// reused: 1 count: 4
}

func ExampleNewFixed() {
	// A fixed arena never grows; the pool just recycles whatever the
	// mark callback leaves unreachable.
	arena := make([]byte, 64)
	pool, err := cellpool.NewFixed(16, arena,
		func(*cellpool.Pool) error { return nil }, nil)
	if err != nil {
		panic(err)
	}

	for i := 0; i < 4; i++ {
		id, _ := pool.Alloc()
		fmt.Println(id)
	}
	// Output:
	// 0
	// 1
	// 2
	// 0
}
