// Package analysis turns per-event outcomes into the run's report: hot-line
// rankings, optimization suggestions, the final JSON object, and the
// streaming frame protocol.
package analysis

import (
	"fmt"
	"sort"

	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/trace"
)

// HotLine is one source line ranked by its L1d miss count.
type HotLine struct {
	File     string  `json:"file"`
	Line     uint32  `json:"line"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	MissRate float64 `json:"missRate"`
	Threads  int     `json:"threads"`
}

// Location returns the file:line form used in suggestions.
func (h HotLine) Location() string {
	return fmt.Sprintf("%s:%d", h.File, h.Line)
}

type lineCounts struct {
	hits    uint64
	misses  uint64
	threads map[uint32]struct{}
}

// Aggregator accumulates per-(file,line) counters from L1d outcomes.
type Aggregator struct {
	perLine map[trace.Location]*lineCounts
	events  uint64
	threads map[uint32]struct{}
}

// NewAggregator builds an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		perLine: make(map[trace.Location]*lineCounts),
		threads: make(map[uint32]struct{}),
	}
}

// Record folds one event and its touch outcomes in. Only data touches carry
// hot-line counts; events without source information still count toward the
// event total.
func (a *Aggregator) Record(ev trace.Event, outcomes []hierarchy.Outcome) {
	a.events++
	a.threads[ev.ThreadID] = struct{}{}

	if !ev.Kind.IsData() || ev.Loc.IsZero() {
		return
	}

	lc, ok := a.perLine[ev.Loc]
	if !ok {
		lc = &lineCounts{threads: make(map[uint32]struct{})}
		a.perLine[ev.Loc] = lc
	}
	lc.threads[ev.ThreadID] = struct{}{}
	for _, out := range outcomes {
		if out.L1Hit {
			lc.hits++
		} else {
			lc.misses++
		}
	}
}

// Events returns the number of events recorded.
func (a *Aggregator) Events() uint64 {
	return a.events
}

// ThreadCount returns the number of distinct threads seen.
func (a *Aggregator) ThreadCount() int {
	return len(a.threads)
}

// HotLines ranks source lines by descending misses, ties broken by
// ascending line number then file name. A limit of 0 returns all lines.
func (a *Aggregator) HotLines(limit int) []HotLine {
	out := make([]HotLine, 0, len(a.perLine))
	for loc, lc := range a.perLine {
		total := lc.hits + lc.misses
		var rate float64
		if total > 0 {
			rate = float64(lc.misses) / float64(total)
		}
		out = append(out, HotLine{
			File:     loc.File,
			Line:     loc.Line,
			Hits:     lc.hits,
			Misses:   lc.misses,
			MissRate: rate,
			Threads:  len(lc.threads),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Misses != out[j].Misses {
			return out[i].Misses > out[j].Misses
		}
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].File < out[j].File
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
