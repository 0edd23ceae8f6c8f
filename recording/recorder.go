package recording

import (
	"github.com/rs/xid"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/timing"
)

// Table names used by the run recorder.
const (
	ProgressTable     = "progress"
	LevelStatsTable   = "level_stats"
	TimingTable       = "timing"
	FalseSharingTable = "false_sharing"
)

// ProgressEntry is one periodic snapshot of cumulative counters.
type ProgressEntry struct {
	Run           string
	Events        uint64
	L1DHits       uint64
	L1DMisses     uint64
	L2Hits        uint64
	L2Misses      uint64
	L3Hits        uint64
	L3Misses      uint64
	Invalidations uint64
}

// LevelStatsEntry is the final counter set of one cache level.
type LevelStatsEntry struct {
	Run        string
	Level      string
	Accesses   uint64
	Hits       uint64
	Misses     uint64
	Writebacks uint64
	Compulsory uint64
	Capacity   uint64
	Conflict   uint64
}

// TimingEntry is the final cycle accounting of a run.
type TimingEntry struct {
	Run          string
	TotalCycles  uint64
	DataAccesses uint64
	AvgLatency   float64
}

// FalseSharingEntry is one flagged cache line.
type FalseSharingEntry struct {
	Run         string
	LineAddr    uint64
	AccessCount int
}

// Recorder writes a run's frames and final statistics into SQLite.
type Recorder struct {
	w   *Writer
	run string
}

// NewRecorder opens a recorder backed by the database at path. An empty path
// picks a unique name.
func NewRecorder(path string) (*Recorder, error) {
	w, err := NewWriter(path)
	if err != nil {
		return nil, err
	}

	return newRecorder(w), nil
}

// NewRecorderWithWriter builds a recorder over an existing writer.
func NewRecorderWithWriter(w *Writer) *Recorder {
	return newRecorder(w)
}

func newRecorder(w *Writer) *Recorder {
	r := &Recorder{w: w, run: xid.New().String()}

	w.CreateTable(ProgressTable, ProgressEntry{})
	w.CreateTable(LevelStatsTable, LevelStatsEntry{})
	w.CreateTable(TimingTable, TimingEntry{})
	w.CreateTable(FalseSharingTable, FalseSharingEntry{})

	return r
}

// Run returns this run's unique identifier.
func (r *Recorder) Run() string {
	return r.run
}

// Progress records one cumulative snapshot.
func (r *Recorder) Progress(events uint64, st hierarchy.Stats) {
	r.w.InsertData(ProgressTable, ProgressEntry{
		Run:           r.run,
		Events:        events,
		L1DHits:       st.L1D.Hits,
		L1DMisses:     st.L1D.Misses,
		L2Hits:        st.L2.Hits,
		L2Misses:      st.L2.Misses,
		L3Hits:        st.L3.Hits,
		L3Misses:      st.L3.Misses,
		Invalidations: st.Invalidations,
	})
}

// Final records the run's closing per-level statistics, timing, and flagged
// false-sharing lines.
func (r *Recorder) Final(
	st hierarchy.Stats,
	model *timing.Model,
	fs []coherence.LineReport,
) {
	r.level("l1d", st.L1D)
	r.level("l1i", st.L1I)
	r.level("l2", st.L2)
	if st.HasL3 {
		r.level("l3", st.L3)
	}

	r.w.InsertData(TimingTable, TimingEntry{
		Run:          r.run,
		TotalCycles:  model.TotalCycles(),
		DataAccesses: model.DataAccesses(),
		AvgLatency:   model.AverageLatency(),
	})

	for _, rep := range fs {
		r.w.InsertData(FalseSharingTable, FalseSharingEntry{
			Run:         r.run,
			LineAddr:    rep.LineAddr,
			AccessCount: len(rep.Accesses),
		})
	}
}

func (r *Recorder) level(name string, s cache.Stats) {
	r.w.InsertData(LevelStatsTable, LevelStatsEntry{
		Run:        r.run,
		Level:      name,
		Accesses:   s.Accesses(),
		Hits:       s.Hits,
		Misses:     s.Misses,
		Writebacks: s.Writebacks,
		Compulsory: s.Compulsory,
		Capacity:   s.Capacity,
		Conflict:   s.Conflict,
	})
}

// Flush writes all buffered rows out.
func (r *Recorder) Flush() {
	r.w.Flush()
}

// Close flushes and closes the backing database.
func (r *Recorder) Close() error {
	return r.w.Close()
}
