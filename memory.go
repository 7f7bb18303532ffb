package cellpool

import "github.com/pkg/errors"

// MemoryFunc provisions, resizes, and releases a pool's backing buffer.
// The contract is keyed on the arguments, realloc style:
//
//   - buf == nil: allocate newSize bytes.
//   - newSize == 0: release buf, return nil.
//   - otherwise: resize buf to newSize bytes, preserving the first
//     min(oldSize, newSize) bytes. On failure the original buf must be
//     left intact.
//
// The returned slice must have length of at least newSize. Growable
// pools call this to obtain their initial buffer and to double it when
// the growth heuristic fires; fixed-arena pools never call it.
type MemoryFunc func(buf []byte, oldSize, newSize int) ([]byte, error)

// MarkFunc is the client's root-marking callback. It runs inside Alloc
// and ForceGC with the markbits cleared, and must call [Pool.Mark] for
// every reachable root and everything transitively reachable from one.
// It may call Mark and Get, and nothing else on the same pool. A non-nil
// error aborts the collection and fails the triggering call.
type MarkFunc func(*Pool) error

// FreeFunc is the optional finalizer, invoked once per unreachable cell
// as it is swept, before the cell's bytes are zeroed. A cell that was
// never allocated into holds all-zero bytes when its finalizer runs.
// It must not call back into the same pool.
type FreeFunc func(*Pool, ID)

// HeapMemory is a MemoryFunc backed by the Go heap.
func HeapMemory(buf []byte, oldSize, newSize int) ([]byte, error) {
	switch {
	case buf == nil:
		return make([]byte, newSize), nil
	case newSize == 0:
		return nil, nil
	default:
		if newSize <= cap(buf) {
			return buf[:newSize], nil
		}
		next := make([]byte, newSize)
		copy(next, buf[:min(oldSize, newSize)])
		return next, nil
	}
}

// provision wraps a MemoryFunc call and normalizes short results into
// errors so callers only deal with one failure path.
func provision(mem MemoryFunc, buf []byte, oldSize, newSize int) ([]byte, error) {
	next, err := mem(buf, oldSize, newSize)
	if err != nil {
		return nil, err
	}
	if len(next) < newSize {
		if len(next) > 0 {
			_, _ = mem(next, len(next), 0)
		}
		return nil, errors.Errorf("memory callback returned %d bytes, need %d", len(next), newSize)
	}
	return next, nil
}
