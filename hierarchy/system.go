// Package hierarchy ties the per-core cache levels, TLBs, prefetchers,
// coherence directory, and timing model into one simulated memory system.
// Events flow in decode order; every touch produces an Outcome the reporter
// aggregates.
package hierarchy

import (
	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/profiles"
	"github.com/sarchlab/cachescope/timing"
	"github.com/sarchlab/cachescope/tlb"
	"github.com/sarchlab/cachescope/trace"
)

// Outcome describes how one line touch resolved.
type Outcome struct {
	// Level is where the touch was served.
	Level timing.ResolveLevel

	L1Hit   bool
	TLBMiss bool

	// PrefetchHit marks a demand hit on a line the prefetcher brought in.
	PrefetchHit bool

	// FalseSharing marks the touch that newly flagged its line.
	FalseSharing bool
}

// core is the private machinery of one simulated core.
type core struct {
	l1i *cache.Level
	l1d *cache.Level
	l2  *cache.Level
	l3  *cache.Level // private L3; nil when shared or absent

	dtlb *tlb.TLB
	itlb *tlb.TLB

	pf *prefetch.Engine
}

// System is one analysis run's memory hierarchy. It is not safe for
// concurrent use; the event stream is totally ordered.
type System struct {
	profile  profiles.Profile
	cores    []core
	sharedL3 *cache.Level

	dir   *coherence.Directory
	fs    *coherence.Tracker
	model *timing.Model

	lineSize uint64

	threadToCore map[uint32]int
	nextCore     int

	swPrefetch prefetch.Stats
	swLines    map[uint64]struct{}
}

// Profile returns the hardware profile the system was built from.
func (s *System) Profile() profiles.Profile {
	return s.profile
}

// NumCores returns the core count.
func (s *System) NumCores() int {
	return len(s.cores)
}

// coreFor assigns threads to cores round-robin on first sight.
func (s *System) coreFor(thread uint32) int {
	if c, ok := s.threadToCore[thread]; ok {
		return c
	}
	c := s.nextCore % len(s.cores)
	s.threadToCore[thread] = c
	s.nextCore++
	return c
}

// Apply routes one event through the hierarchy. An access spanning multiple
// lines produces one Outcome per line crossed.
func (s *System) Apply(ev trace.Event) []Outcome {
	first := ev.Addr &^ (s.lineSize - 1)
	last := (ev.Addr + uint64(ev.Size) - 1) &^ (s.lineSize - 1)

	n := (last-first)/s.lineSize + 1
	outcomes := make([]Outcome, 0, n)
	for lineAddr := first; ; lineAddr += s.lineSize {
		addr := ev.Addr
		if lineAddr > addr {
			addr = lineAddr
		}
		outcomes = append(outcomes, s.touch(ev, addr, lineAddr))
		if lineAddr == last {
			break
		}
	}
	return outcomes
}

// touch handles one line-sized piece of an access.
func (s *System) touch(ev trace.Event, addr, lineAddr uint64) Outcome {
	c := s.coreFor(ev.ThreadID)

	switch ev.Kind {
	case trace.InstructionFetch:
		return s.instructionFetch(c, addr, lineAddr)
	case trace.SoftwarePrefetch:
		s.softwarePrefetch(c, lineAddr)
		return Outcome{Level: timing.ResolveL1}
	default:
		return s.dataTouch(c, ev, addr, lineAddr)
	}
}

func (s *System) dataTouch(c int, ev trace.Event, addr, lineAddr uint64) Outcome {
	co := &s.cores[c]
	write := ev.Kind.IsWrite()

	var out Outcome
	out.TLBMiss = !co.dtlb.Lookup(addr)
	out.FalseSharing = s.fs.Record(addr, ev.ThreadID, write, ev.Loc)

	var snoop coherence.SnoopResult
	if write {
		snoop = s.dir.RequestExclusive(c, lineAddr)
		if snoop.Found {
			s.fs.RecordInvalidation(lineAddr)
		}
	} else {
		snoop = s.dir.RequestRead(c, lineAddr)
	}

	res := co.l1d.Access(lineAddr, write)
	if res.Hit {
		out.L1Hit = true
		out.Level = timing.ResolveL1
		if res.PrefetchHit {
			out.PrefetchHit = true
			if _, sw := s.swLines[lineAddr]; sw {
				s.swPrefetch.Useful++
				delete(s.swLines, lineAddr)
			} else {
				co.pf.RecordUseful()
			}
		}
		s.model.Record(out.Level, out.TLBMiss, true)
		return out
	}

	s.handleL1Eviction(co, res)
	if !write {
		// Read fills are Shared when another core holds the line.
		co.l1d.SetState(lineAddr, snoop.FillState())
	}
	s.issuePrefetches(co, co.pf.OnMiss(lineAddr, ev.ThreadID))

	out.Level = s.fillFromOuter(co, lineAddr)
	s.model.Record(out.Level, out.TLBMiss, true)
	return out
}

// fillFromOuter walks L2, then L3 (shared or private), then memory, filling
// inward per the inclusion rule. Returns the resolving level.
func (s *System) fillFromOuter(co *core, lineAddr uint64) timing.ResolveLevel {
	l2res := co.l2.Access(lineAddr, false)
	s.propagateEviction(co.l2, s.l3For(co), l2res)
	if l2res.Hit {
		return timing.ResolveL2
	}

	l3 := s.l3For(co)
	if l3 == nil {
		return timing.ResolveMemory
	}
	l3res := l3.Access(lineAddr, false)
	s.propagateEviction(l3, nil, l3res)
	if l3res.Hit {
		return timing.ResolveL3
	}
	return timing.ResolveMemory
}

func (s *System) l3For(co *core) *cache.Level {
	if s.sharedL3 != nil {
		return s.sharedL3
	}
	return co.l3
}

// handleL1Eviction propagates a dirty L1 victim to L2 and resets the false
// sharing accumulation once the line's last private copy is gone.
func (s *System) handleL1Eviction(co *core, res cache.AccessResult) {
	if !res.Evicted {
		return
	}
	if res.EvictedDirty {
		co.l1d.CountWriteback()
		// The install can displace a dirty L2 victim of its own when L2
		// dropped this line earlier while L1 kept it.
		ires := co.l2.Install(res.EvictedAddr, true)
		s.propagateEviction(co.l2, s.l3For(co), ires)
	}
	if s.dir.SharerCount(res.EvictedAddr) == 0 {
		s.fs.ResetLine(res.EvictedAddr)
	}
	delete(s.swLines, res.EvictedAddr)
}

// propagateEviction writes a dirty victim back to the next outward level, or
// to memory when there is none. Memory write-backs cost nothing beyond the
// cycles already charged.
func (s *System) propagateEviction(from, outer *cache.Level, res cache.AccessResult) {
	if !res.Evicted || !res.EvictedDirty {
		return
	}
	from.CountWriteback()
	if outer != nil {
		outer.Install(res.EvictedAddr, true)
	}
}

func (s *System) instructionFetch(c int, addr, lineAddr uint64) Outcome {
	co := &s.cores[c]

	var out Outcome
	out.TLBMiss = !co.itlb.Lookup(addr)

	res := co.l1i.Access(lineAddr, false)
	if res.Hit {
		out.L1Hit = true
		out.Level = timing.ResolveL1
	} else {
		s.propagateEviction(co.l1i, co.l2, res)
		out.Level = s.fillFromOuter(co, lineAddr)
	}
	s.model.Record(out.Level, out.TLBMiss, false)
	return out
}

// softwarePrefetch installs the hinted line like a hardware prefetch fill,
// without demand counters or cycle charges.
func (s *System) softwarePrefetch(c int, lineAddr uint64) {
	co := &s.cores[c]
	s.swPrefetch.Issued++

	if co.l1d.Probe(lineAddr) {
		return
	}
	s.ensureOuter(co, lineAddr)
	res := co.l1d.InstallPrefetch(lineAddr, cache.Exclusive)
	s.handleL1Eviction(co, res)
	s.swLines[lineAddr] = struct{}{}
}

// issuePrefetches fills the engine's candidates that are not yet resident.
func (s *System) issuePrefetches(co *core, addrs []uint64) {
	for _, a := range addrs {
		if co.l1d.Probe(a) {
			continue
		}
		s.ensureOuter(co, a)
		res := co.l1d.InstallPrefetch(a, cache.Exclusive)
		s.handleL1Eviction(co, res)
	}
}

// ensureOuter makes the line resident in L2 (and L3) without touching demand
// counters, so a speculative fill never inflates outer-level stats.
func (s *System) ensureOuter(co *core, lineAddr uint64) {
	if co.l2.Probe(lineAddr) {
		return
	}
	if l3 := s.l3For(co); l3 != nil && !l3.Probe(lineAddr) {
		res := l3.Install(lineAddr, false)
		s.propagateEviction(l3, nil, res)
	}
	res := co.l2.Install(lineAddr, false)
	s.propagateEviction(co.l2, s.l3For(co), res)
}
