package tlb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sarchlab/cachescope/tlb"
)

func TestLookupSamePage(t *testing.T) {
	b := tlb.New(tlb.DefaultConfig())

	assert.False(t, b.Lookup(0x1000))
	// Any address within the same 4KB page hits.
	assert.True(t, b.Lookup(0x1fff))
	assert.True(t, b.Lookup(0x1004))

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestLRUWithinSet(t *testing.T) {
	// 4 entries, 4-way: one set, so 5 distinct pages force an eviction of
	// the least recently used.
	b := tlb.New(tlb.Config{Entries: 4, Assoc: 4, PageSize: 4096})

	for p := 0; p < 4; p++ {
		b.Lookup(uint64(p) << 12)
	}
	b.Lookup(0 << 12)       // page 0 is now MRU
	b.Lookup(5 << 12)       // evicts page 1
	assert.True(t, b.Lookup(0<<12))
	assert.False(t, b.Lookup(1<<12))
}

func TestFlush(t *testing.T) {
	b := tlb.New(tlb.DefaultConfig())
	b.Lookup(0x4000)
	b.Flush()
	assert.False(t, b.Lookup(0x4000))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, tlb.DefaultConfig().Validate())
	assert.Error(t, tlb.Config{Entries: 64, Assoc: 3, PageSize: 4096}.Validate())
	assert.Error(t, tlb.Config{Entries: 64, Assoc: 4, PageSize: 1000}.Validate())
	assert.Error(t, tlb.Config{Entries: 0, Assoc: 4, PageSize: 4096}.Validate())
}

func TestHitRate(t *testing.T) {
	b := tlb.New(tlb.DefaultConfig())
	for i := 0; i < 100; i++ {
		b.Lookup(0x7000)
	}
	assert.InDelta(t, 0.99, b.Stats().HitRate(), 1e-9)
}
