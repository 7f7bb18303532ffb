package cellpool

import "github.com/containerd/log"

// ForceGC runs an unconditional full mark/sweep cycle. The markbit
// region is rebuilt from scratch by the mark callback, every cell left
// unmarked is finalized in ascending ID order, and the whole buffer is
// then zeroed with the sweep cursor reset to the start. The pool never
// grows here.
//
// After a forced collection every cell reads as zero; clients that need
// contents to survive must re-populate reachable cells. Returns the
// mark callback's error, if any, with the pool left valid.
func (p *Pool) ForceGC() error {
	p.enter("ForceGC")
	defer p.leave()

	clear(p.raw[p.markOff : p.markOff+markBytes(p.count)])
	if err := p.runMark(); err != nil {
		return err
	}

	reclaimed := 0
	for i := 0; i < p.count; i++ {
		if p.checkAndClearMark(i) {
			continue
		}
		if p.free != nil {
			p.callFree(ID(i))
		}
		p.swept++
		reclaimed++
	}
	p.sweep = 0
	clear(p.raw)
	log.L.WithFields(log.Fields{
		"cells":     p.count,
		"reclaimed": reclaimed,
	}).Debug("cellpool: forced collection")
	return nil
}
