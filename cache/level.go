package cache

// line is one way of one set.
type line struct {
	tag        uint64
	lastUse    uint64
	state      State
	valid      bool
	dirty      bool
	prefetched bool
}

// AccessResult reports what one lookup or fill did to the level.
type AccessResult struct {
	Hit bool

	// PrefetchHit is set when a demand access hit a line that was brought
	// in by the prefetcher and not yet demanded. The provenance mark is
	// cleared on first demand hit so a prefetch is credited at most once.
	PrefetchHit bool

	// Evicted describes the victim when a fill displaced a valid line.
	Evicted      bool
	EvictedAddr  uint64
	EvictedDirty bool

	// MissKind is the 3C classification of a demand miss; MissNone for
	// hits and for levels with classification disabled.
	MissKind MissKind
}

// MissKind is one bucket of the 3C miss taxonomy.
type MissKind int

// Miss classification buckets.
const (
	MissNone MissKind = iota
	MissCompulsory
	MissCapacity
	MissConflict
)

func (k MissKind) String() string {
	switch k {
	case MissCompulsory:
		return "compulsory"
	case MissCapacity:
		return "capacity"
	case MissConflict:
		return "conflict"
	}
	return "none"
}

// Level is one set-associative cache level. All addresses passed in must be
// line-aligned; callers split accesses into line touches first.
type Level struct {
	cfg   Config
	sets  [][]line
	clock uint64
	stats Stats
	reuse *reuseTracker
}

// NewLevel builds a level from a validated config. classify enables the 3C
// reuse-distance tracker; disabling it (the "fast" mode) leaves the
// compulsory/capacity/conflict counters uncomputed.
func NewLevel(cfg Config, classify bool) *Level {
	l := &Level{
		cfg:  cfg,
		sets: make([][]line, cfg.NumSets()),
	}
	for i := range l.sets {
		l.sets[i] = make([]line, cfg.Assoc)
	}
	if classify {
		l.reuse = newReuseTracker()
		l.stats.Classified = true
	}
	return l
}

// Config returns the level's geometry.
func (l *Level) Config() Config {
	return l.cfg
}

// Stats returns the level's counters.
func (l *Level) Stats() Stats {
	return l.stats
}

// Access performs a demand lookup, counting a hit or a classified miss. On
// a miss the line is filled, evicting the LRU way; the caller is
// responsible for propagating the returned dirty victim outward.
func (l *Level) Access(lineAddr uint64, write bool) AccessResult {
	idx := l.cfg.index(lineAddr)
	set := l.sets[idx]
	tag := l.cfg.tag(lineAddr)
	l.clock++

	kind := l.classify(lineAddr)

	for i := range set {
		w := &set[i]
		if w.valid && w.tag == tag {
			w.lastUse = l.clock
			if write {
				w.dirty = true
				w.state = Modified
			}
			res := AccessResult{Hit: true}
			if w.prefetched {
				w.prefetched = false
				res.PrefetchHit = true
			}
			l.stats.Hits++
			return res
		}
	}

	l.stats.Misses++
	l.countMiss(kind)

	state := Exclusive
	if write {
		state = Modified
	}
	res := l.fill(set, idx, tag, write, state, false)
	res.MissKind = kind
	return res
}

// Probe reports whether the line is resident without disturbing LRU order
// or stats.
func (l *Level) Probe(lineAddr uint64) bool {
	_, ok := l.lookup(lineAddr)
	return ok
}

// Dirty reports whether the line is resident and dirty.
func (l *Level) Dirty(lineAddr uint64) bool {
	w, ok := l.lookup(lineAddr)
	return ok && w.dirty
}

// StateOf returns the line's MESI state, Invalid if not resident.
func (l *Level) StateOf(lineAddr uint64) State {
	if w, ok := l.lookup(lineAddr); ok {
		return w.state
	}
	return Invalid
}

// SetState overwrites the MESI state of a resident line. Dirty tracks the
// state: only Modified lines hold unwritten data, so a downgrade (which
// follows a write-back) clears it.
func (l *Level) SetState(lineAddr uint64, s State) {
	if w, ok := l.lookup(lineAddr); ok {
		w.state = s
		w.dirty = s == Modified
	}
}

// Install fills a line without counting a demand access, as when an outer
// level's fill propagates inward or a write-back lands here.
func (l *Level) Install(lineAddr uint64, dirty bool) AccessResult {
	idx := l.cfg.index(lineAddr)
	set := l.sets[idx]
	tag := l.cfg.tag(lineAddr)
	l.clock++

	for i := range set {
		w := &set[i]
		if w.valid && w.tag == tag {
			w.lastUse = l.clock
			w.dirty = w.dirty || dirty
			return AccessResult{Hit: true}
		}
	}
	state := Exclusive
	if dirty {
		state = Modified
	}
	return l.fill(set, idx, tag, dirty, state, false)
}

// InstallWithState fills a line with an explicit MESI state, as directed by
// the coherence controller.
func (l *Level) InstallWithState(lineAddr uint64, s State) AccessResult {
	idx := l.cfg.index(lineAddr)
	set := l.sets[idx]
	tag := l.cfg.tag(lineAddr)
	l.clock++

	for i := range set {
		w := &set[i]
		if w.valid && w.tag == tag {
			w.lastUse = l.clock
			w.state = s
			if s == Modified {
				w.dirty = true
			}
			return AccessResult{Hit: true}
		}
	}
	return l.fill(set, idx, tag, s == Modified, s, false)
}

// InstallPrefetch fills a line speculatively, marking its provenance so a
// later demand hit can be credited to the prefetcher.
func (l *Level) InstallPrefetch(lineAddr uint64, s State) AccessResult {
	idx := l.cfg.index(lineAddr)
	set := l.sets[idx]
	tag := l.cfg.tag(lineAddr)
	l.clock++

	for i := range set {
		w := &set[i]
		if w.valid && w.tag == tag {
			return AccessResult{Hit: true}
		}
	}
	return l.fill(set, idx, tag, false, s, true)
}

// Invalidate drops the line if resident, reporting whether it was dirty.
func (l *Level) Invalidate(lineAddr uint64) (wasDirty bool) {
	if w, ok := l.lookup(lineAddr); ok {
		wasDirty = w.dirty
		w.valid = false
		w.dirty = false
		w.state = Invalid
		w.prefetched = false
	}
	return wasDirty
}

// CountWriteback records a dirty eviction propagating outward from this
// level.
func (l *Level) CountWriteback() {
	l.stats.Writebacks++
}

func (l *Level) lookup(lineAddr uint64) (*line, bool) {
	set := l.sets[l.cfg.index(lineAddr)]
	tag := l.cfg.tag(lineAddr)
	for i := range set {
		if set[i].valid && set[i].tag == tag {
			return &set[i], true
		}
	}
	return nil, false
}

// fill places a line into the set, evicting the LRU valid way if no way is
// free.
func (l *Level) fill(set []line, idx, tag uint64, dirty bool, s State, prefetched bool) AccessResult {
	victim := 0
	found := false
	for i := range set {
		if !set[i].valid {
			victim = i
			found = true
			break
		}
	}
	if !found {
		oldest := set[0].lastUse
		for i := 1; i < len(set); i++ {
			if set[i].lastUse < oldest {
				oldest = set[i].lastUse
				victim = i
			}
		}
	}

	var res AccessResult
	w := &set[victim]
	if w.valid {
		res.Evicted = true
		res.EvictedAddr = l.cfg.rebuild(w.tag, idx)
		res.EvictedDirty = w.dirty
	}

	w.tag = tag
	w.valid = true
	w.dirty = dirty
	w.state = s
	w.lastUse = l.clock
	w.prefetched = prefetched
	return res
}

// classify computes the 3C bucket before the structure is mutated. The rule
// is the fully-associative reuse-distance criterion: first-ever touch is
// compulsory; otherwise the miss is a capacity miss when at least as many
// distinct lines as the level holds were touched since this line's last
// touch, and a conflict miss when the working set fit but the set was
// oversubscribed.
func (l *Level) classify(lineAddr uint64) MissKind {
	if l.reuse == nil {
		return MissNone
	}
	distance, seen := l.reuse.Touch(lineAddr)
	if !seen {
		return MissCompulsory
	}
	if distance >= l.cfg.NumLines() {
		return MissCapacity
	}
	return MissConflict
}

func (l *Level) countMiss(kind MissKind) {
	switch kind {
	case MissCompulsory:
		l.stats.Compulsory++
	case MissCapacity:
		l.stats.Capacity++
	case MissConflict:
		l.stats.Conflict++
	}
}
