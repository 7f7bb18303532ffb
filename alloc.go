package cellpool

import (
	"github.com/containerd/log"
	"github.com/pkg/errors"
)

// checkAndClearMark reports whether cell i was marked, clearing the bit
// either way. Clearing as the sweep scan passes is what keeps the
// markbit vector consistent without a separate clear pass: after any
// full scan the vector is all zero, and "unmarked" always means "not
// marked since the scan last crossed this cell".
func (p *Pool) checkAndClearMark(i int) bool {
	idx := p.markOff + i/8
	bit := byte(1) << (i % 8)
	was := p.raw[idx]&bit != 0
	p.raw[idx] &^= bit
	return was
}

// findUnmarked scans cells in [start, count) for the first unmarked
// one, finalizes and zeroes it, and leaves the sweep cursor just past
// it. Marked cells it passes have their bits consumed.
func (p *Pool) findUnmarked(start int) (ID, bool) {
	for i := start; i < p.count; i++ {
		if p.checkAndClearMark(i) {
			continue
		}
		if p.free != nil {
			p.callFree(ID(i))
		}
		off := i * p.cellSize
		clear(p.raw[off : off+p.cellSize])
		p.sweep = i + 1
		p.swept++
		return ID(i), true
	}
	return None, false
}

// Alloc returns the ID of a zeroed cell, reclaiming an unreachable one
// if any exists. It first resumes the lazy sweep from the cursor; if
// the scan exhausts the pool it runs a full mark cycle through the mark
// callback, doubles the backing buffer when at least three quarters of
// the cells survived marking (in pools of fewer than four cells, when
// any cell survived; growable pools only), and sweeps again from the
// start.
//
// On failure Alloc returns None along with the mark callback's error,
// the grow failure, or ErrPoolFull. The pool stays valid either way.
// A successful Alloc may have moved the backing buffer; slices from
// earlier Get calls must be re-resolved.
func (p *Pool) Alloc() (ID, error) {
	p.enter("Alloc")
	defer p.leave()

	if id, ok := p.findUnmarked(p.sweep); ok {
		p.allocs++
		return id, nil
	}

	if err := p.runMark(); err != nil {
		return None, err
	}

	// A sweep that would recover less than a quarter of the pool is
	// about to trigger another mark cycle almost immediately; doubling
	// now amortizes the mark cost.
	threshold := 1
	if p.count >= 4 {
		threshold = p.count - p.count/4
	}
	if p.mem != nil && p.marked >= threshold {
		if err := p.grow(); err != nil {
			return None, errors.Wrap(err, "growing pool")
		}
	}

	p.sweep = 0
	if id, ok := p.findUnmarked(0); ok {
		p.allocs++
		return id, nil
	}
	return None, ErrPoolFull
}

// grow doubles the backing buffer and relocates the markbit region to
// the end of the enlarged cell array. The memory callback preserves the
// old buffer's bytes, so after the move the old markbits sit in the
// middle of the new cell region; they are copied to the new markbit
// base and their stale image is zeroed along with the rest of the new
// cells. On failure the pool is unchanged.
func (p *Pool) grow() error {
	oldSize := len(p.raw)
	newSize := 2 * oldSize
	oldMarkOff := p.markOff
	oldMarkBytes := markBytes(p.count)

	raw, err := p.mem(p.raw, oldSize, newSize)
	if err != nil {
		return err
	}
	if len(raw) < newSize {
		// Contract breach by the callback. The old bytes are only
		// guaranteed up to len(raw); keep the pool on the returned
		// buffer with its old geometry and report failure.
		if len(raw) >= oldSize {
			p.raw = raw[:oldSize]
		}
		return errors.Errorf("memory callback returned %d bytes, need %d", len(raw), newSize)
	}
	raw = raw[:newSize]

	count := fitCount(newSize, p.cellSize)
	newMarkOff := count * p.cellSize

	// The old markbit region starts exactly where the new cells begin,
	// so zeroing the gap between the two markbit bases both erases the
	// stale bit image and zero-fills every newly created cell.
	copy(raw[newMarkOff:newMarkOff+oldMarkBytes], raw[oldMarkOff:oldMarkOff+oldMarkBytes])
	clear(raw[oldMarkOff:newMarkOff])
	clear(raw[newMarkOff+oldMarkBytes : newMarkOff+markBytes(count)])

	p.raw = raw
	p.count = count
	p.markOff = newMarkOff
	p.grows++
	log.L.WithFields(log.Fields{
		"cells": count,
		"bytes": newSize,
	}).Debug("cellpool: grew backing buffer")
	return nil
}
