package hierarchy

import (
	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/timing"
	"github.com/sarchlab/cachescope/tlb"
)

// Stats is the aggregate view of a run, summed across cores where a level is
// private.
type Stats struct {
	L1DPerCore []cache.Stats
	L1D        cache.Stats
	L1I        cache.Stats
	L2         cache.Stats
	L3         cache.Stats
	HasL3      bool

	DTLB tlb.Stats
	ITLB tlb.Stats

	PrefetchPerCore  []prefetch.Stats
	Prefetch         prefetch.Stats
	SoftwarePrefetch prefetch.Stats

	Invalidations      uint64
	FalseSharingEvents uint64
}

// Stats snapshots every counter in the system.
func (s *System) Stats() Stats {
	out := Stats{
		L1DPerCore:         make([]cache.Stats, len(s.cores)),
		PrefetchPerCore:    make([]prefetch.Stats, len(s.cores)),
		HasL3:              s.profile.HasL3(),
		SoftwarePrefetch:   s.swPrefetch,
		Invalidations:      s.dir.Invalidations(),
		FalseSharingEvents: s.fs.Events(),
	}
	for i := range s.cores {
		co := &s.cores[i]
		out.L1DPerCore[i] = co.l1d.Stats()
		out.L1D.Add(co.l1d.Stats())
		out.L1I.Add(co.l1i.Stats())
		out.L2.Add(co.l2.Stats())
		if co.l3 != nil {
			out.L3.Add(co.l3.Stats())
		}
		dtlb, itlb := co.dtlb.Stats(), co.itlb.Stats()
		out.DTLB.Add(dtlb)
		out.ITLB.Add(itlb)
		out.PrefetchPerCore[i] = co.pf.Stats()
		out.Prefetch.Add(co.pf.Stats())
	}
	if s.sharedL3 != nil {
		out.L3 = s.sharedL3.Stats()
	}
	return out
}

// FalseSharingReports returns the detail records for every flagged line.
func (s *System) FalseSharingReports() []coherence.LineReport {
	return s.fs.Reports()
}

// Timing exposes the cycle model for the reporter.
func (s *System) Timing() *timing.Model {
	return s.model
}

// L1DState reports a line's MESI state in one core's L1d, for tests and the
// coherence detail report.
func (s *System) L1DState(core int, lineAddr uint64) cache.State {
	if core < 0 || core >= len(s.cores) {
		return cache.Invalid
	}
	return s.cores[core].l1d.StateOf(lineAddr)
}
