package cellpool

import "github.com/pkg/errors"

// Errors returned by the constructors and by Alloc. Constructor errors
// reject bad input; ErrPoolFull reports genuine exhaustion of a pool
// that could not (or may not) grow. All of them may come back wrapped;
// match with errors.Is.
var (
	// ErrCellSize means the requested cell size cannot hold a cell ID.
	ErrCellSize = errors.New("cell size is smaller than a cell ID")

	// ErrCellAlign means the requested cell size is not a multiple of
	// the platform pointer size, so embedded IDs and pointers in client
	// cell layouts would be misaligned.
	ErrCellAlign = errors.New("cell size is not a multiple of the pointer size")

	// ErrBadCount rejects a growable pool's starting cell count.
	ErrBadCount = errors.New("invalid starting cell count")

	// ErrArenaTooSmall means the caller-owned buffer is shorter than two
	// cells' worth of bytes.
	ErrArenaTooSmall = errors.New("arena smaller than two cells")

	// ErrNilArena rejects a nil fixed-arena buffer.
	ErrNilArena = errors.New("nil arena buffer")

	// ErrNilMark rejects a missing mark callback.
	ErrNilMark = errors.New("nil mark callback")

	// ErrNilMemory rejects a missing memory callback on a growable pool.
	ErrNilMemory = errors.New("nil memory callback")

	// ErrPoolFull is returned by Alloc when a full mark pass left no
	// cell unreachable and the pool cannot grow.
	ErrPoolFull = errors.New("no unreachable cells in pool")
)
