//go:build !cellpool_id16

package cellpool

// ID is the stable handle for a cell within a pool. IDs are dense in
// [0, Count()) and survive pool growth; pointers obtained through
// [Pool.Get] do not.
//
// Build with the cellpool_id16 tag to narrow IDs (and the per-cell
// minimum size) to 16 bits.
type ID uint32

// None is the sentinel "no cell" value, returned by a failed
// [Pool.Alloc]. It is never a valid cell ID.
const None = ^ID(0)

// idSize is the encoded width of an ID in bytes. Cells must be able to
// hold at least one ID so that client cell layouts can link cells
// together.
const idSize = 4
