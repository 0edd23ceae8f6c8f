package coherence

import (
	"sort"

	"github.com/sarchlab/cachescope/trace"
)

// Access is one recorded touch on a tracked line.
type Access struct {
	Thread uint32
	Offset uint32
	Write  bool
	Loc    trace.Location
}

// LineReport describes one line on which false sharing was detected.
type LineReport struct {
	LineAddr      uint64
	Accesses      []Access
	Invalidations uint64
}

// sampleCap bounds how many raw accesses a report retains per line. Counters
// keep accumulating past the cap.
const sampleCap = 16

// Tracker flags cache lines written by two or more threads at two or more
// distinct byte offsets during one residency. Same-thread or same-offset
// reuse never triggers it.
type Tracker struct {
	lineSize uint64
	lines    map[uint64]*lineState
	flagged  map[uint64]*LineReport
}

type lineState struct {
	threads  map[uint32]struct{}
	offsets  map[uint32]struct{}
	hasWrite bool
	sample   []Access
}

// NewTracker builds a tracker for the given line size.
func NewTracker(lineSize int) *Tracker {
	return &Tracker{
		lineSize: uint64(lineSize),
		lines:    make(map[uint64]*lineState),
		flagged:  make(map[uint64]*LineReport),
	}
}

// Record feeds one demand access. It returns true when the access newly
// flags its line as falsely shared.
func (t *Tracker) Record(addr uint64, thread uint32, write bool, loc trace.Location) bool {
	lineAddr := addr &^ (t.lineSize - 1)
	offset := uint32(addr & (t.lineSize - 1))

	st, ok := t.lines[lineAddr]
	if !ok {
		st = &lineState{
			threads: make(map[uint32]struct{}),
			offsets: make(map[uint32]struct{}),
		}
		t.lines[lineAddr] = st
	}

	st.threads[thread] = struct{}{}
	st.offsets[offset] = struct{}{}
	if write {
		st.hasWrite = true
	}
	if len(st.sample) < sampleCap {
		st.sample = append(st.sample, Access{Thread: thread, Offset: offset, Write: write, Loc: loc})
	}

	if rep, done := t.flagged[lineAddr]; done {
		if len(rep.Accesses) < sampleCap {
			rep.Accesses = append(rep.Accesses, Access{Thread: thread, Offset: offset, Write: write, Loc: loc})
		}
		return false
	}

	if len(st.threads) > 1 && len(st.offsets) > 1 && st.hasWrite {
		rep := &LineReport{LineAddr: lineAddr}
		rep.Accesses = append(rep.Accesses, st.sample...)
		t.flagged[lineAddr] = rep
		return true
	}
	return false
}

// RecordInvalidation attributes one coherence invalidation to the line, for
// the per-line report.
func (t *Tracker) RecordInvalidation(lineAddr uint64) {
	if rep, ok := t.flagged[lineAddr]; ok {
		rep.Invalidations++
	}
}

// ResetLine clears the accumulation for a line whose last resident copy left
// the private caches. A line flagged in an earlier residency stays flagged.
func (t *Tracker) ResetLine(lineAddr uint64) {
	delete(t.lines, lineAddr)
}

// Events returns how many distinct lines have been flagged.
func (t *Tracker) Events() uint64 {
	return uint64(len(t.flagged))
}

// Reports returns the flagged lines ordered by line address.
func (t *Tracker) Reports() []LineReport {
	out := make([]LineReport, 0, len(t.flagged))
	for _, rep := range t.flagged {
		out = append(out, *rep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineAddr < out[j].LineAddr })
	return out
}
