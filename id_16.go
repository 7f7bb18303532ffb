//go:build cellpool_id16

package cellpool

// ID is the stable handle for a cell within a pool, narrowed to 16 bits
// by the cellpool_id16 build tag.
type ID uint16

// None is the sentinel "no cell" value. It is never a valid cell ID.
const None = ^ID(0)

// idSize is the encoded width of an ID in bytes.
const idSize = 2
