// Package prefetch implements the speculative-fill engine that runs
// alongside demand accesses. The engine decides which line addresses to
// fetch; the hierarchy owns the fills and reports back which prefetched
// lines a demand access later landed on.
package prefetch

import "fmt"

// Policy names a prefetch algorithm.
type Policy string

// The supported policies.
const (
	// None issues nothing.
	None Policy = "none"
	// NextLine fetches the lines after every demand miss.
	NextLine Policy = "next_line"
	// Stream detects monotonic runs and fetches degree lines ahead.
	Stream Policy = "stream"
	// Stride tracks per-thread deltas and predicts addr+delta after two
	// consecutive confirmations.
	Stride Policy = "stride"
	// Adaptive re-evaluates a rolling useful/issued ratio per candidate
	// policy and switches to the best performer.
	Adaptive Policy = "adaptive"
	// Hardware approximates a commercial fixed-degree stream prefetcher.
	Hardware Policy = "hardware"
)

// ParsePolicy resolves the CLI spellings of each policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "none":
		return None, nil
	case "next", "nextline", "next_line":
		return NextLine, nil
	case "stream":
		return Stream, nil
	case "stride":
		return Stride, nil
	case "adaptive":
		return Adaptive, nil
	case "hardware", "hw", "intel":
		return Hardware, nil
	}
	return None, fmt.Errorf("prefetch: unknown policy %q", name)
}

// Stats counts engine activity. Useful never exceeds Issued.
type Stats struct {
	Issued uint64
	Useful uint64
}

// Accuracy returns useful over issued, zero when nothing was issued.
func (s Stats) Accuracy() float64 {
	if s.Issued == 0 {
		return 0
	}
	return float64(s.Useful) / float64(s.Issued)
}

// Add merges another engine's counters, for per-core aggregation.
func (s *Stats) Add(o Stats) {
	s.Issued += o.Issued
	s.Useful += o.Useful
}

const (
	confidenceThreshold = 2
	maxConfidence       = 8
	numStreamSlots      = 16
	pageShift           = 12
)

// Engine is one core's prefetcher. Each core owns an independent instance.
type Engine struct {
	policy   Policy
	degree   int
	lineSize uint64

	streams [numStreamSlots]streamSlot
	strides map[uint64]*strideSlot

	stats Stats

	// Adaptive state: which candidate is live and its window counters.
	active     Policy
	window     windowStats
	candidates []Policy
	best       map[Policy]float64
	explored   map[Policy]bool
}

type streamSlot struct {
	lastLine   uint64
	direction  int
	confidence int
	valid      bool
}

type strideSlot struct {
	lastLine   uint64
	delta      int64
	confidence int
}

type windowStats struct {
	issued uint64
	useful uint64
}

// adaptiveWindow is how many demand misses pass between candidate
// re-evaluations.
const adaptiveWindow = 4096

// NewEngine builds an engine for the given policy, degree, and line size.
func NewEngine(policy Policy, degree, lineSize int) *Engine {
	if degree < 1 {
		degree = 1
	}
	e := &Engine{
		policy:   policy,
		degree:   degree,
		lineSize: uint64(lineSize),
		strides:  make(map[uint64]*strideSlot),
	}
	if policy == Adaptive {
		e.active = Stream
		e.candidates = []Policy{Stream, Stride, NextLine}
		e.best = make(map[Policy]float64)
		e.explored = make(map[Policy]bool)
	}
	return e
}

// Policy returns the configured policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Degree returns the configured prefetch depth.
func (e *Engine) Degree() int {
	return e.degree
}

// Stats returns issued/useful counters.
func (e *Engine) Stats() Stats {
	return e.stats
}

// OnMiss feeds the engine one demand miss and returns the line addresses to
// fetch. The caller filters already-resident lines before filling; filtered
// candidates still count as issued for the accuracy ratio, matching how
// hardware counters attribute prefetch requests.
func (e *Engine) OnMiss(lineAddr uint64, thread uint32) []uint64 {
	var addrs []uint64
	switch e.policy {
	case None:
	case NextLine:
		addrs = e.nextLine(lineAddr)
	case Stream:
		addrs = e.stream(lineAddr)
	case Stride:
		addrs = e.stride(lineAddr, thread)
	case Adaptive:
		addrs = e.adaptive(lineAddr, thread)
	case Hardware:
		addrs = e.hardware(lineAddr, thread)
	}

	e.stats.Issued += uint64(len(addrs))
	if e.policy == Adaptive {
		e.window.issued += uint64(len(addrs))
	}
	return addrs
}

// RecordUseful credits one prefetched line that a demand access landed on.
func (e *Engine) RecordUseful() {
	e.stats.Useful++
	if e.policy == Adaptive {
		e.window.useful++
	}
}

func (e *Engine) nextLine(lineAddr uint64) []uint64 {
	addrs := make([]uint64, 0, e.degree)
	for i := 1; i <= e.degree; i++ {
		addrs = append(addrs, lineAddr+uint64(i)*e.lineSize)
	}
	return addrs
}

// stream tracks up to numStreamSlots monotonic runs keyed by page. A run is
// confirmed after confidenceThreshold consecutive same-direction steps, then
// fetches degree lines ahead without crossing the page boundary.
func (e *Engine) stream(lineAddr uint64) []uint64 {
	page := lineAddr >> pageShift

	slot := e.updateStream(lineAddr, page)
	if slot == nil || slot.confidence < confidenceThreshold || slot.direction == 0 {
		return nil
	}

	addrs := make([]uint64, 0, e.degree)
	for i := 1; i <= e.degree; i++ {
		next := lineAddr + uint64(int64(slot.direction)*int64(i)*int64(e.lineSize))
		if next>>pageShift != page {
			break
		}
		addrs = append(addrs, next)
	}
	return addrs
}

func (e *Engine) updateStream(lineAddr, page uint64) *streamSlot {
	for i := range e.streams {
		s := &e.streams[i]
		if !s.valid || s.lastLine>>pageShift != page {
			continue
		}
		delta := int64(lineAddr) - int64(s.lastLine)
		switch {
		case delta == int64(e.lineSize) && s.direction >= 0:
			s.lastLine = lineAddr
			s.direction = 1
			s.confidence = min(s.confidence+1, maxConfidence)
		case delta == -int64(e.lineSize) && s.direction <= 0:
			s.lastLine = lineAddr
			s.direction = -1
			s.confidence = min(s.confidence+1, maxConfidence)
		default:
			s.confidence--
			if s.confidence <= 0 {
				s.valid = false
			}
		}
		return s
	}

	// Start a new run, replacing the lowest-confidence slot if full.
	victim := 0
	for i := range e.streams {
		if !e.streams[i].valid {
			victim = i
			break
		}
		if e.streams[i].confidence < e.streams[victim].confidence {
			victim = i
		}
	}
	e.streams[victim] = streamSlot{lastLine: lineAddr, confidence: 1, valid: true}
	return nil
}

// stride keys one slot per thread: the traced program's per-thread access
// stream. The delta must repeat twice before predictions start.
func (e *Engine) stride(lineAddr uint64, thread uint32) []uint64 {
	key := uint64(thread)
	slot, ok := e.strides[key]
	if !ok {
		e.strides[key] = &strideSlot{lastLine: lineAddr}
		return nil
	}

	delta := int64(lineAddr) - int64(slot.lastLine)
	slot.lastLine = lineAddr

	switch {
	case delta == 0:
		return nil
	case slot.delta == delta:
		slot.confidence = min(slot.confidence+1, maxConfidence)
	default:
		slot.confidence--
		if slot.confidence <= 0 {
			slot.delta = delta
			slot.confidence = 1
		}
		return nil
	}

	if slot.confidence < confidenceThreshold {
		return nil
	}

	addrs := make([]uint64, 0, e.degree)
	for i := 1; i <= e.degree; i++ {
		addrs = append(addrs, uint64(int64(lineAddr)+delta*int64(i)))
	}
	return addrs
}

// adaptive runs one candidate at a time and re-evaluates the rolling
// useful/issued ratio each window, switching to the best performer seen.
// Unexplored candidates are tried first so every policy gets a window.
func (e *Engine) adaptive(lineAddr uint64, thread uint32) []uint64 {
	if e.window.issued >= adaptiveWindow {
		e.best[e.active] = float64(e.window.useful) / float64(e.window.issued)
		e.explored[e.active] = true
		e.window = windowStats{}
		e.active = e.pickNext()
	}

	switch e.active {
	case Stride:
		return e.stride(lineAddr, thread)
	case NextLine:
		return e.nextLine(lineAddr)
	default:
		return e.stream(lineAddr)
	}
}

func (e *Engine) pickNext() Policy {
	for _, c := range e.candidates {
		if !e.explored[c] {
			return c
		}
	}
	best := e.candidates[0]
	for _, c := range e.candidates[1:] {
		if e.best[c] > e.best[best] {
			best = c
		}
	}
	return best
}

// hardware approximates a commercial stream prefetcher: a fixed degree of 4
// on confirmed streams plus a next-line fetch on the first miss in a page.
func (e *Engine) hardware(lineAddr uint64, thread uint32) []uint64 {
	const hwDegree = 4

	page := lineAddr >> pageShift
	slot := e.updateStream(lineAddr, page)
	if slot == nil {
		// New page: adjacent-line fill.
		next := lineAddr + e.lineSize
		if next>>pageShift == page {
			return []uint64{next}
		}
		return nil
	}
	if slot.confidence < confidenceThreshold || slot.direction == 0 {
		return nil
	}

	addrs := make([]uint64, 0, hwDegree)
	for i := 1; i <= hwDegree; i++ {
		next := lineAddr + uint64(int64(slot.direction)*int64(i)*int64(e.lineSize))
		if next>>pageShift != page {
			break
		}
		addrs = append(addrs, next)
	}
	return addrs
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
