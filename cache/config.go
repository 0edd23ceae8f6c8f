// Package cache implements a set-associative cache level with LRU
// replacement, write-back dirty tracking, MESI line states, and 3C miss
// classification backed by a reuse-distance tracker.
package cache

import (
	"fmt"
	"math/bits"
)

// Config describes the geometry of one cache level.
type Config struct {
	// SizeBytes is the total capacity. A size of zero disables the level
	// (used by presets without an L3).
	SizeBytes int
	// LineSize is the block size in bytes.
	LineSize int
	// Assoc is the number of ways per set.
	Assoc int
}

// NumSets returns the number of sets the geometry implies.
func (c Config) NumSets() int {
	return c.SizeBytes / (c.LineSize * c.Assoc)
}

// NumLines returns the total line capacity of the level.
func (c Config) NumLines() int {
	return c.SizeBytes / c.LineSize
}

// Validate rejects geometries the index math cannot handle: the line size
// and the derived set count must be powers of two, and the size must divide
// evenly into sets.
func (c Config) Validate() error {
	if c.SizeBytes <= 0 {
		return fmt.Errorf("cache: size must be positive, got %d", c.SizeBytes)
	}
	if c.Assoc <= 0 {
		return fmt.Errorf("cache: associativity must be positive, got %d", c.Assoc)
	}
	if c.LineSize <= 0 || bits.OnesCount(uint(c.LineSize)) != 1 {
		return fmt.Errorf("cache: line size must be a power of two, got %d", c.LineSize)
	}
	if c.SizeBytes%(c.LineSize*c.Assoc) != 0 {
		return fmt.Errorf("cache: size %d does not divide into %d-way sets of %d-byte lines",
			c.SizeBytes, c.Assoc, c.LineSize)
	}
	numSets := c.NumSets()
	if numSets == 0 || bits.OnesCount(uint(numSets)) != 1 {
		return fmt.Errorf("cache: set count must be a power of two, got %d", numSets)
	}
	return nil
}

func (c Config) offsetBits() int {
	return bits.TrailingZeros(uint(c.LineSize))
}

func (c Config) indexBits() int {
	return bits.TrailingZeros(uint(c.NumSets()))
}

// LineAddr returns the line-aligned address containing addr.
func (c Config) LineAddr(addr uint64) uint64 {
	return addr &^ (uint64(c.LineSize) - 1)
}

func (c Config) index(addr uint64) uint64 {
	return (addr >> c.offsetBits()) & (uint64(c.NumSets()) - 1)
}

func (c Config) tag(addr uint64) uint64 {
	return addr >> (c.offsetBits() + c.indexBits())
}

func (c Config) rebuild(tag, index uint64) uint64 {
	return tag<<(c.offsetBits()+c.indexBits()) | index<<c.offsetBits()
}
