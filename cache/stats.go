package cache

// Stats accumulates per-level counters. The 3C buckets are only meaningful
// when classification is enabled; Classified distinguishes "all zero" from
// "not computed".
type Stats struct {
	Hits       uint64
	Misses     uint64
	Writebacks uint64

	Classified bool
	Compulsory uint64
	Capacity   uint64
	Conflict   uint64
}

// Accesses returns the number of touches routed to the level.
func (s Stats) Accesses() uint64 {
	return s.Hits + s.Misses
}

// HitRate returns hits over touches, zero for an untouched level.
func (s Stats) HitRate() float64 {
	if s.Accesses() == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Accesses())
}

// MissRate returns misses over touches, zero for an untouched level.
func (s Stats) MissRate() float64 {
	if s.Accesses() == 0 {
		return 0
	}
	return float64(s.Misses) / float64(s.Accesses())
}

// Add merges another level's counters into s, for per-core aggregation.
func (s *Stats) Add(o Stats) {
	s.Hits += o.Hits
	s.Misses += o.Misses
	s.Writebacks += o.Writebacks
	s.Classified = s.Classified || o.Classified
	s.Compulsory += o.Compulsory
	s.Capacity += o.Capacity
	s.Conflict += o.Conflict
}
