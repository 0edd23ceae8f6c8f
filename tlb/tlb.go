// Package tlb models a translation lookaside buffer as a small
// set-associative cache over page numbers.
package tlb

import (
	"fmt"
	"math/bits"
)

// Config describes a TLB shape.
type Config struct {
	// Entries is the total entry count.
	Entries int
	// Assoc is the number of ways per set.
	Assoc int
	// PageSize is the page size in bytes.
	PageSize int
}

// DefaultConfig is the 64-entry 4-way 4KB-page shape used by all presets.
func DefaultConfig() Config {
	return Config{Entries: 64, Assoc: 4, PageSize: 4096}
}

// NumSets returns the number of sets the shape implies.
func (c Config) NumSets() int {
	return c.Entries / c.Assoc
}

// Validate rejects shapes the index math cannot handle.
func (c Config) Validate() error {
	if c.Entries <= 0 || c.Assoc <= 0 {
		return fmt.Errorf("tlb: entries and associativity must be positive")
	}
	if c.Entries%c.Assoc != 0 {
		return fmt.Errorf("tlb: %d entries do not divide into %d ways", c.Entries, c.Assoc)
	}
	if bits.OnesCount(uint(c.PageSize)) != 1 {
		return fmt.Errorf("tlb: page size must be a power of two, got %d", c.PageSize)
	}
	if bits.OnesCount(uint(c.NumSets())) != 1 {
		return fmt.Errorf("tlb: set count must be a power of two, got %d", c.NumSets())
	}
	return nil
}

// Stats counts lookups.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns hits over lookups, zero when untouched.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Add merges another TLB's counters, for per-core aggregation.
func (s *Stats) Add(o Stats) {
	s.Hits += o.Hits
	s.Misses += o.Misses
}

type entry struct {
	page    uint64
	lastUse uint64
	valid   bool
}

// TLB is one translation buffer instance. Instruction and data sides use
// separate instances.
type TLB struct {
	cfg      Config
	sets     [][]entry
	pageBits int
	clock    uint64
	stats    Stats
}

// New builds a TLB from a validated config.
func New(cfg Config) *TLB {
	t := &TLB{
		cfg:      cfg,
		sets:     make([][]entry, cfg.NumSets()),
		pageBits: bits.TrailingZeros(uint(cfg.PageSize)),
	}
	for i := range t.sets {
		t.sets[i] = make([]entry, cfg.Assoc)
	}
	return t
}

// Stats returns the lookup counters.
func (t *TLB) Stats() Stats {
	return t.stats
}

// Lookup translates the page containing addr, reporting whether the mapping
// was already cached. A miss installs the mapping, evicting LRU.
func (t *TLB) Lookup(addr uint64) bool {
	page := addr >> t.pageBits
	set := t.sets[page&(uint64(t.cfg.NumSets())-1)]
	t.clock++

	for i := range set {
		if set[i].valid && set[i].page == page {
			set[i].lastUse = t.clock
			t.stats.Hits++
			return true
		}
	}

	t.stats.Misses++

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

	set[victim] = entry{page: page, lastUse: t.clock, valid: true}
	return false
}

// Flush drops every cached mapping. Stats are preserved.
func (t *TLB) Flush() {
	for _, set := range t.sets {
		for i := range set {
			set[i] = entry{}
		}
	}
}
