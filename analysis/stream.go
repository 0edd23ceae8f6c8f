package analysis

import (
	"encoding/json"
	"io"

	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/timing"
	"github.com/sarchlab/cachescope/trace"
)

// Streaming frame protocol: a start frame, periodic progress frames whose
// counters are cumulative (so every count is a monotonic subset of the final
// report), and one complete frame carrying the authoritative report. Frames
// are newline-delimited JSON objects distinguished by "type".

// TimelineEntry is one recent touch in a progress frame, compact for the
// consumer's live visualization.
type TimelineEntry struct {
	Index uint64 `json:"i"`
	Type  string `json:"t"` // R, W, or I
	Level int    `json:"l"` // 1..3, 4 for memory
	Addr  uint64 `json:"a"`
	File  string `json:"f,omitempty"`
	Line  uint32 `json:"n,omitempty"`
}

type levelCounts struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type startFrame struct {
	Type   string `json:"type"`
	Config string `json:"config"`
	Cores  int    `json:"cores"`
}

type progressFrame struct {
	Type      string          `json:"type"`
	Events    uint64          `json:"events"`
	Threads   int             `json:"threads"`
	L1D       levelCounts     `json:"l1d"`
	L2        levelCounts     `json:"l2"`
	L3        levelCounts     `json:"l3"`
	Coherence uint64          `json:"coherence"`
	Timeline  []TimelineEntry `json:"timeline"`
}

type completeFrame struct {
	Type   string `json:"type"`
	Report Report `json:"report"`
}

// timelineCap bounds how many touches a progress frame replays.
const timelineCap = 64

// Streamer writes the frame sequence. Every write flushes a full line so a
// consumer on the other end of a pipe sees frames promptly.
type Streamer struct {
	enc      *json.Encoder
	interval uint64

	timeline []TimelineEntry
	lastEmit uint64
	eventIdx uint64
}

// NewStreamer emits a progress frame every interval events.
func NewStreamer(w io.Writer, interval uint64) *Streamer {
	if interval == 0 {
		interval = 10000
	}
	return &Streamer{enc: json.NewEncoder(w), interval: interval}
}

// Start writes the opening frame.
func (s *Streamer) Start(config string, cores int) error {
	return s.enc.Encode(startFrame{Type: "start", Config: config, Cores: cores})
}

// Observe records one event's outcomes and emits a progress frame when the
// interval has elapsed.
func (s *Streamer) Observe(ev trace.Event, outcomes []hierarchy.Outcome, sys *hierarchy.System, agg *Aggregator) error {
	s.eventIdx++
	if len(s.timeline) < timelineCap && len(outcomes) > 0 {
		s.timeline = append(s.timeline, timelineEntry(s.eventIdx, ev, outcomes[0]))
	}
	if s.eventIdx-s.lastEmit < s.interval {
		return nil
	}
	return s.Progress(sys, agg)
}

// Progress emits one cumulative progress frame immediately.
func (s *Streamer) Progress(sys *hierarchy.System, agg *Aggregator) error {
	stats := sys.Stats()
	frame := progressFrame{
		Type:      "progress",
		Events:    agg.Events(),
		Threads:   agg.ThreadCount(),
		L1D:       levelCounts{stats.L1D.Hits, stats.L1D.Misses},
		L2:        levelCounts{stats.L2.Hits, stats.L2.Misses},
		L3:        levelCounts{stats.L3.Hits, stats.L3.Misses},
		Coherence: stats.Invalidations,
		Timeline:  s.timeline,
	}
	s.lastEmit = s.eventIdx
	s.timeline = s.timeline[:0]
	return s.enc.Encode(frame)
}

// Complete writes the authoritative closing frame.
func (s *Streamer) Complete(report Report) error {
	return s.enc.Encode(completeFrame{Type: "complete", Report: report})
}

func timelineEntry(idx uint64, ev trace.Event, out hierarchy.Outcome) TimelineEntry {
	t := "R"
	switch {
	case ev.Kind == trace.InstructionFetch:
		t = "I"
	case ev.Kind.IsWrite():
		t = "W"
	}
	level := 4
	switch out.Level {
	case timing.ResolveL1:
		level = 1
	case timing.ResolveL2:
		level = 2
	case timing.ResolveL3:
		level = 3
	}
	return TimelineEntry{
		Index: idx,
		Type:  t,
		Level: level,
		Addr:  ev.Addr,
		File:  ev.Loc.File,
		Line:  ev.Loc.Line,
	}
}
