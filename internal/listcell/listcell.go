// Package listcell is the example cell layout used by the tests and
// the stress harness: a singly linked list node with an 8-byte payload
// and the ID of the next node, packed into a 16-byte cell.
//
// By convention cell 0 is the list head and a zero Next terminates the
// chain, which works out because freshly swept cells are all-zero.
package listcell

import (
	"encoding/binary"

	"github.com/moby/cellpool"
)

// Size is the cell size the layout needs. Next is stored as a 32-bit
// field regardless of the pool's compiled ID width.
const Size = 16

// Link is the decoded form of one cell.
type Link struct {
	Payload uint64
	Next    cellpool.ID
}

// Load decodes the link stored in cell.
func Load(cell []byte) Link {
	return Link{
		Payload: binary.LittleEndian.Uint64(cell[0:8]),
		Next:    cellpool.ID(binary.LittleEndian.Uint32(cell[8:12])),
	}
}

// Store encodes l into cell.
func Store(cell []byte, l Link) {
	binary.LittleEndian.PutUint64(cell[0:8], l.Payload)
	binary.LittleEndian.PutUint32(cell[8:12], uint32(l.Next))
}

// ChainMarker returns a mark callback that treats cell 0 as the root of
// a linked chain and marks every node on it, as long as *live is true.
// Flipping *live to false makes the whole pool garbage.
func ChainMarker(live *bool) cellpool.MarkFunc {
	return func(p *cellpool.Pool) error {
		if !*live {
			return nil
		}
		var id cellpool.ID
		cell := p.Get(id)
		if cell == nil {
			return nil
		}
		p.Mark(id)
		for id = Load(cell).Next; id != 0; {
			p.Mark(id)
			id = Load(p.Get(id)).Next
		}
		return nil
	}
}

// Chain collects the IDs on the chain rooted at cell 0, head first.
func Chain(p *cellpool.Pool) []cellpool.ID {
	var ids []cellpool.ID
	var id cellpool.ID
	cell := p.Get(id)
	if cell == nil {
		return nil
	}
	ids = append(ids, id)
	for id = Load(cell).Next; id != 0; {
		ids = append(ids, id)
		id = Load(p.Get(id)).Next
	}
	return ids
}
