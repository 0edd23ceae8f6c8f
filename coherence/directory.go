// Package coherence keeps the private per-core L1 data caches consistent and
// detects false sharing. The simulator is a single-threaded replay of a
// totally-ordered event stream, so the directory mutates core caches directly
// instead of modeling a bus protocol in time.
package coherence

import "github.com/sarchlab/cachescope/cache"

// SnoopResult reports what a snoop found in the other cores.
type SnoopResult struct {
	Found       bool
	WasModified bool
	SourceCore  int
}

// Directory tracks line residency across the registered L1 data caches and
// performs the MESI transitions a read or write demands.
type Directory struct {
	caches        []*cache.Level
	invalidations uint64
}

// NewDirectory builds a directory for numCores cores. Caches are attached
// with Register before the first event.
func NewDirectory(numCores int) *Directory {
	return &Directory{caches: make([]*cache.Level, numCores)}
}

// Register attaches one core's L1 data cache.
func (d *Directory) Register(core int, l1 *cache.Level) {
	d.caches[core] = l1
}

// Invalidations returns the global count of remote copies invalidated by
// exclusive requests.
func (d *Directory) Invalidations() uint64 {
	return d.invalidations
}

// RequestRead snoops the other cores before a read fill. A Modified remote
// copy is downgraded to Shared with a write-back; the caller installs its own
// copy as Shared when the line was found elsewhere, Exclusive otherwise.
func (d *Directory) RequestRead(core int, lineAddr uint64) SnoopResult {
	var r SnoopResult
	for c, l1 := range d.caches {
		if c == core || l1 == nil {
			continue
		}
		if !l1.Probe(lineAddr) {
			continue
		}
		r.Found = true
		if l1.Dirty(lineAddr) {
			r.WasModified = true
			r.SourceCore = c
			l1.CountWriteback()
			l1.SetState(lineAddr, cache.Shared)
		} else if l1.StateOf(lineAddr) == cache.Exclusive {
			l1.SetState(lineAddr, cache.Shared)
		}
	}
	return r
}

// RequestExclusive invalidates every remote copy ahead of a write. Each
// invalidated copy bumps the global counter and, when dirty, a write-back.
// The victim core takes a fresh miss on its next touch of the line.
func (d *Directory) RequestExclusive(core int, lineAddr uint64) SnoopResult {
	var r SnoopResult
	for c, l1 := range d.caches {
		if c == core || l1 == nil {
			continue
		}
		if !l1.Probe(lineAddr) {
			continue
		}
		r.Found = true
		if l1.Dirty(lineAddr) {
			r.WasModified = true
			r.SourceCore = c
			l1.CountWriteback()
		}
		l1.Invalidate(lineAddr)
		d.invalidations++
	}
	return r
}

// FillState is the MESI state a read fill installs with, given the snoop.
func (r SnoopResult) FillState() cache.State {
	if r.Found {
		return cache.Shared
	}
	return cache.Exclusive
}

// SharerCount reports how many cores currently hold the line.
func (d *Directory) SharerCount(lineAddr uint64) int {
	n := 0
	for _, l1 := range d.caches {
		if l1 != nil && l1.Probe(lineAddr) {
			n++
		}
	}
	return n
}
