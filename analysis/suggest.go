package analysis

import (
	"fmt"

	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/hierarchy"
)

// Suggestion is one actionable finding tied to a location.
type Suggestion struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Location string `json:"location"`
	Message  string `json:"message"`
	Fix      string `json:"fix"`
}

// Rule trigger thresholds. A hot line needs enough traffic before its miss
// rate means anything.
const (
	hotLineMinMisses   = 64
	hotLineMissRate    = 0.5
	conflictShare      = 0.5
	overallL1MissRate  = 0.3
	maxHotLineFindings = 5
)

// Suggest runs the rule set over the finished aggregation.
func Suggest(hot []HotLine, fs []coherence.LineReport, stats hierarchy.Stats, lineSize int) []Suggestion {
	var out []Suggestion

	for _, rep := range fs {
		threads := map[uint32]struct{}{}
		loc := fmt.Sprintf("0x%x", rep.LineAddr)
		for _, a := range rep.Accesses {
			threads[a.Thread] = struct{}{}
			if !a.Loc.IsZero() {
				loc = fmt.Sprintf("%s:%d", a.Loc.File, a.Loc.Line)
			}
		}
		out = append(out, Suggestion{
			Type:     "false_sharing",
			Severity: "high",
			Location: loc,
			Message: fmt.Sprintf(
				"%d threads write different bytes of the cache line at 0x%x, forcing the line to bounce between cores",
				len(threads), rep.LineAddr),
			Fix: fmt.Sprintf("pad or align each thread's data to %d bytes so no two threads share a line", lineSize),
		})
	}

	findings := 0
	for _, h := range hot {
		if findings >= maxHotLineFindings {
			break
		}
		if h.Misses < hotLineMinMisses || h.MissRate < hotLineMissRate {
			continue
		}
		findings++
		sev := "medium"
		if h.MissRate > 0.8 {
			sev = "high"
		}
		out = append(out, Suggestion{
			Type:     "high_miss_rate",
			Severity: sev,
			Location: h.Location(),
			Message: fmt.Sprintf("%.0f%% of the %d accesses at this line miss the L1 data cache",
				h.MissRate*100, h.Hits+h.Misses),
			Fix: "restructure the access pattern for spatial locality: traverse arrays in memory order or block the loop",
		})
	}

	if stats.L1D.Classified && stats.L1D.Misses > 0 {
		if float64(stats.L1D.Conflict)/float64(stats.L1D.Misses) > conflictShare &&
			stats.L1D.MissRate() > overallL1MissRate {
			out = append(out, Suggestion{
				Type:     "strided_access",
				Severity: "medium",
				Location: "L1d",
				Message: fmt.Sprintf(
					"%d of %d L1d misses are conflict misses: a power-of-two stride is oversubscribing a few cache sets",
					stats.L1D.Conflict, stats.L1D.Misses),
				Fix: "offset large allocations from power-of-two strides, or pad matrix rows by one cache line",
			})
		}
	}

	return out
}
