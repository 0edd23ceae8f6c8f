package analysis

import (
	"fmt"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/timing"
	"github.com/sarchlab/cachescope/tlb"
	"github.com/sarchlab/cachescope/trace"
)

// LevelReport is one cache level's counters. The 3C fields are pointers so
// a fast-mode run omits them entirely: absent means not computed, never
// zero.
type LevelReport struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	HitRate    float64 `json:"hitRate"`
	Writebacks uint64  `json:"writebacks"`

	Compulsory *uint64 `json:"compulsory,omitempty"`
	Capacity   *uint64 `json:"capacity,omitempty"`
	Conflict   *uint64 `json:"conflict,omitempty"`
}

func levelReport(s cache.Stats) LevelReport {
	r := LevelReport{
		Hits:       s.Hits,
		Misses:     s.Misses,
		HitRate:    s.HitRate(),
		Writebacks: s.Writebacks,
	}
	if s.Classified {
		compulsory, capacity, conflict := s.Compulsory, s.Capacity, s.Conflict
		r.Compulsory = &compulsory
		r.Capacity = &capacity
		r.Conflict = &conflict
	}
	return r
}

// TLBReport is one TLB's counters.
type TLBReport struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func tlbReport(s tlb.Stats) TLBReport {
	return TLBReport{Hits: s.Hits, Misses: s.Misses, HitRate: s.HitRate()}
}

// PrefetchReport describes one prefetch source's effectiveness.
type PrefetchReport struct {
	Policy   string  `json:"policy,omitempty"`
	Degree   int     `json:"degree,omitempty"`
	Issued   uint64  `json:"issued"`
	Useful   uint64  `json:"useful"`
	Accuracy float64 `json:"accuracy"`
}

// CoherenceReport carries the cross-core counters.
type CoherenceReport struct {
	Invalidations      uint64 `json:"invalidations"`
	FalseSharingEvents uint64 `json:"falseSharingEvents"`
}

// FalseSharingAccess is one thread's first recorded touch of a flagged line.
type FalseSharingAccess struct {
	ThreadID uint32 `json:"threadId"`
	Offset   uint32 `json:"offset"`
	IsWrite  bool   `json:"isWrite"`
	File     string `json:"file,omitempty"`
	Line     uint32 `json:"line,omitempty"`
	Count    int    `json:"count"`
}

// FalseSharingDetail is the per-line detail record.
type FalseSharingDetail struct {
	CacheLineAddr string               `json:"cacheLineAddr"`
	AccessCount   int                  `json:"accessCount"`
	Accesses      []FalseSharingAccess `json:"accesses"`
}

// TimingReport carries total cycles and their partition.
type TimingReport struct {
	TotalCycles   uint64               `json:"totalCycles"`
	AvgLatency    float64              `json:"avgLatency"`
	Breakdown     timing.Breakdown     `json:"breakdown"`
	LatencyConfig timing.LatencyConfig `json:"latencyConfig"`
}

// TrafficReport groups the vector, atomic, and memory-intrinsic counters
// the decoder collected.
type TrafficReport struct {
	VectorLoads  uint64 `json:"vectorLoads"`
	VectorStores uint64 `json:"vectorStores"`
	VectorBytes  uint64 `json:"vectorBytes"`

	AtomicLoads    uint64 `json:"atomicLoads"`
	AtomicStores   uint64 `json:"atomicStores"`
	AtomicRMWs     uint64 `json:"atomicRmws"`
	AtomicCmpxchgs uint64 `json:"atomicCmpxchgs"`

	MemcpyCount  uint64 `json:"memcpyCount"`
	MemcpyBytes  uint64 `json:"memcpyBytes"`
	MemsetCount  uint64 `json:"memsetCount"`
	MemsetBytes  uint64 `json:"memsetBytes"`
	MemmoveCount uint64 `json:"memmoveCount"`
	MemmoveBytes uint64 `json:"memmoveBytes"`
}

// Report is the run's final JSON object.
type Report struct {
	Config    string `json:"config"`
	Cores     int    `json:"cores"`
	Events    uint64 `json:"events"`
	Threads   int    `json:"threads"`
	Skipped   uint64 `json:"skipped,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	L1D LevelReport  `json:"l1d"`
	L1I LevelReport  `json:"l1i"`
	L2  LevelReport  `json:"l2"`
	L3  *LevelReport `json:"l3,omitempty"`

	TLB struct {
		DTLB TLBReport `json:"dtlb"`
		ITLB TLBReport `json:"itlb"`
	} `json:"tlb"`

	Coherence    CoherenceReport      `json:"coherence"`
	FalseSharing []FalseSharingDetail `json:"falseSharing"`

	Prefetch         *PrefetchReport `json:"prefetch,omitempty"`
	SoftwarePrefetch *PrefetchReport `json:"softwarePrefetch,omitempty"`

	Timing TimingReport `json:"timing"`

	Traffic *TrafficReport `json:"traffic,omitempty"`

	HotLines    []HotLine    `json:"hotLines"`
	Suggestions []Suggestion `json:"suggestions"`
}

// maxHotLines bounds the ranked list in the report.
const maxHotLines = 50

// BuildReport assembles the final report from the finished run.
func BuildReport(sys *hierarchy.System, agg *Aggregator, decStats trace.Stats, truncated bool) Report {
	stats := sys.Stats()
	profile := sys.Profile()
	hot := agg.HotLines(maxHotLines)
	fs := sys.FalseSharingReports()

	r := Report{
		Config:    profile.Name,
		Cores:     sys.NumCores(),
		Events:    agg.Events(),
		Threads:   agg.ThreadCount(),
		Skipped:   decStats.Skipped,
		Truncated: truncated,

		L1D: levelReport(stats.L1D),
		L1I: levelReport(stats.L1I),
		L2:  levelReport(stats.L2),

		Coherence: CoherenceReport{
			Invalidations:      stats.Invalidations,
			FalseSharingEvents: stats.FalseSharingEvents,
		},
		FalseSharing: falseSharingDetails(fs),

		HotLines:    hot,
		Suggestions: Suggest(hot, fs, stats, profile.L1D.LineSize),
	}
	if stats.HasL3 {
		l3 := levelReport(stats.L3)
		r.L3 = &l3
	}

	r.TLB.DTLB = tlbReport(stats.DTLB)
	r.TLB.ITLB = tlbReport(stats.ITLB)

	if profile.Prefetch != prefetch.None || stats.Prefetch.Issued > 0 {
		r.Prefetch = &PrefetchReport{
			Policy:   string(profile.Prefetch),
			Degree:   profile.PrefetchDegree,
			Issued:   stats.Prefetch.Issued,
			Useful:   stats.Prefetch.Useful,
			Accuracy: stats.Prefetch.Accuracy(),
		}
	}
	if stats.SoftwarePrefetch.Issued > 0 {
		r.SoftwarePrefetch = &PrefetchReport{
			Issued:   stats.SoftwarePrefetch.Issued,
			Useful:   stats.SoftwarePrefetch.Useful,
			Accuracy: stats.SoftwarePrefetch.Accuracy(),
		}
	}

	m := sys.Timing()
	r.Timing = TimingReport{
		TotalCycles:   m.TotalCycles(),
		AvgLatency:    m.AverageLatency(),
		Breakdown:     m.Breakdown(),
		LatencyConfig: m.Config(),
	}

	if hasTraffic(decStats) {
		r.Traffic = &TrafficReport{
			VectorLoads:    decStats.VectorLoads,
			VectorStores:   decStats.VectorStores,
			VectorBytes:    decStats.VectorBytes,
			AtomicLoads:    decStats.AtomicLoads,
			AtomicStores:   decStats.AtomicStores,
			AtomicRMWs:     decStats.AtomicRMWs,
			AtomicCmpxchgs: decStats.AtomicCmpxchgs,
			MemcpyCount:    decStats.MemcpyCount,
			MemcpyBytes:    decStats.MemcpyBytes,
			MemsetCount:    decStats.MemsetCount,
			MemsetBytes:    decStats.MemsetBytes,
			MemmoveCount:   decStats.MemmoveCount,
			MemmoveBytes:   decStats.MemmoveBytes,
		}
	}
	return r
}

func hasTraffic(s trace.Stats) bool {
	return s.VectorLoads+s.VectorStores+s.AtomicLoads+s.AtomicStores+
		s.AtomicRMWs+s.AtomicCmpxchgs+s.MemcpyCount+s.MemsetCount+s.MemmoveCount > 0
}

// falseSharingDetails groups each flagged line's sampled accesses by thread,
// reporting the first touch and a count per thread.
func falseSharingDetails(reports []coherence.LineReport) []FalseSharingDetail {
	out := make([]FalseSharingDetail, 0, len(reports))
	for _, rep := range reports {
		d := FalseSharingDetail{
			CacheLineAddr: fmt.Sprintf("0x%x", rep.LineAddr),
			AccessCount:   len(rep.Accesses),
		}
		counts := map[uint32]int{}
		first := map[uint32]coherence.Access{}
		var order []uint32
		for _, a := range rep.Accesses {
			if _, ok := counts[a.Thread]; !ok {
				first[a.Thread] = a
				order = append(order, a.Thread)
			}
			counts[a.Thread]++
		}
		for _, tid := range order {
			a := first[tid]
			d.Accesses = append(d.Accesses, FalseSharingAccess{
				ThreadID: tid,
				Offset:   a.Offset,
				IsWrite:  a.Write,
				File:     a.Loc.File,
				Line:     a.Loc.Line,
				Count:    counts[tid],
			})
		}
		out = append(out, d)
	}
	return out
}
