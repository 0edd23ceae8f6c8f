package prefetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for _, c := range []struct {
		in   string
		want Policy
	}{
		{"", None},
		{"none", None},
		{"next", NextLine},
		{"next_line", NextLine},
		{"stream", Stream},
		{"stride", Stride},
		{"adaptive", Adaptive},
		{"hardware", Hardware},
		{"hw", Hardware},
	} {
		got, err := ParsePolicy(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}

	_, err := ParsePolicy("markov")
	assert.Error(t, err)
}

func TestNoneIssuesNothing(t *testing.T) {
	e := NewEngine(None, 2, 64)

	for addr := uint64(0); addr < 0x1000; addr += 64 {
		assert.Empty(t, e.OnMiss(addr, 0))
	}
	assert.Zero(t, e.Stats().Issued)
}

func TestNextLine(t *testing.T) {
	e := NewEngine(NextLine, 2, 64)

	addrs := e.OnMiss(0x1000, 0)
	assert.Equal(t, []uint64{0x1040, 0x1080}, addrs)
	assert.Equal(t, uint64(2), e.Stats().Issued)
}

func TestStreamConfirmsOnSecondMiss(t *testing.T) {
	e := NewEngine(Stream, 2, 64)

	assert.Empty(t, e.OnMiss(0x1000, 0), "first touch allocates the slot")
	assert.Equal(t, []uint64{0x1080, 0x10c0}, e.OnMiss(0x1040, 0),
		"one consecutive step reaches the confidence threshold")
	assert.Equal(t, []uint64{0x10c0, 0x1100}, e.OnMiss(0x1080, 0))
}

func TestStreamDescending(t *testing.T) {
	e := NewEngine(Stream, 1, 64)

	e.OnMiss(0x1200, 0)
	e.OnMiss(0x11c0, 0)
	addrs := e.OnMiss(0x1180, 0)
	assert.Equal(t, []uint64{0x1140}, addrs)
}

func TestStreamStopsAtPageBoundary(t *testing.T) {
	e := NewEngine(Stream, 8, 64)

	e.OnMiss(0x0e80, 0)
	e.OnMiss(0x0ec0, 0)
	addrs := e.OnMiss(0x0f00, 0)

	// 0x0f40 through 0x0fc0 fit inside the page, 0x1000 does not.
	assert.Equal(t, []uint64{0x0f40, 0x0f80, 0x0fc0}, addrs)
}

func TestStreamRandomAccessStaysQuiet(t *testing.T) {
	e := NewEngine(Stream, 2, 64)

	// Jumps within one page that never repeat a line-size delta.
	for _, addr := range []uint64{0x1000, 0x1540, 0x1080, 0x1600, 0x1140} {
		assert.Empty(t, e.OnMiss(addr, 0))
	}
}

func TestStrideDetectsLargeDelta(t *testing.T) {
	e := NewEngine(Stride, 2, 64)

	assert.Empty(t, e.OnMiss(0x1000, 1))
	assert.Empty(t, e.OnMiss(0x1200, 1), "first delta observation")
	addrs := e.OnMiss(0x1400, 1)
	assert.Equal(t, []uint64{0x1600, 0x1800}, addrs)
}

func TestStrideIsPerThread(t *testing.T) {
	e := NewEngine(Stride, 1, 64)

	// Interleaved threads each keep their own run.
	e.OnMiss(0x1000, 1)
	e.OnMiss(0x8000, 2)
	e.OnMiss(0x1100, 1)
	e.OnMiss(0x8200, 2)
	a1 := e.OnMiss(0x1200, 1)
	a2 := e.OnMiss(0x8400, 2)

	assert.Equal(t, []uint64{0x1300}, a1)
	assert.Equal(t, []uint64{0x8600}, a2)
}

func TestStrideRetrainsOnNewDelta(t *testing.T) {
	e := NewEngine(Stride, 1, 64)

	e.OnMiss(0x1000, 0)
	e.OnMiss(0x1100, 0)
	require.NotEmpty(t, e.OnMiss(0x1200, 0))

	// A new stride first decays the old run's confidence, then retrains on
	// the repeated delta.
	assert.Empty(t, e.OnMiss(0x2200, 0))
	assert.Empty(t, e.OnMiss(0x2240, 0))
	assert.NotEmpty(t, e.OnMiss(0x2280, 0))
}

func TestAdaptiveStartsWithStream(t *testing.T) {
	e := NewEngine(Adaptive, 2, 64)

	e.OnMiss(0x1000, 0)
	e.OnMiss(0x1040, 0)
	addrs := e.OnMiss(0x1080, 0)
	assert.NotEmpty(t, addrs, "adaptive behaves as stream before the first window closes")
}

func TestAdaptiveRotatesCandidates(t *testing.T) {
	e := NewEngine(Adaptive, 4, 64)

	// Sequential misses make stream issue continuously, closing windows.
	addr := uint64(0)
	for e.window.issued < adaptiveWindow {
		e.OnMiss(addr, 0)
		addr += 64
	}
	e.OnMiss(addr, 0)
	assert.Equal(t, Stride, e.active, "second window explores the next candidate")
}

func TestAccuracy(t *testing.T) {
	e := NewEngine(NextLine, 4, 64)

	e.OnMiss(0x1000, 0)
	e.RecordUseful()
	e.RecordUseful()

	s := e.Stats()
	assert.Equal(t, uint64(4), s.Issued)
	assert.Equal(t, uint64(2), s.Useful)
	assert.InDelta(t, 0.5, s.Accuracy(), 1e-9)

	assert.Zero(t, Stats{}.Accuracy())
}

func TestHardwareAdjacentLineOnNewPage(t *testing.T) {
	e := NewEngine(Hardware, 1, 64)

	addrs := e.OnMiss(0x4000, 0)
	assert.Equal(t, []uint64{0x4040}, addrs)
}

func TestHardwareFixedDegreeOnStream(t *testing.T) {
	e := NewEngine(Hardware, 1, 64)

	e.OnMiss(0x4000, 0)
	e.OnMiss(0x4040, 0)
	addrs := e.OnMiss(0x4080, 0)
	assert.Equal(t, []uint64{0x40c0, 0x4100, 0x4140, 0x4180}, addrs)
}

func TestStatsAdd(t *testing.T) {
	a := Stats{Issued: 10, Useful: 3}
	a.Add(Stats{Issued: 5, Useful: 2})
	assert.Equal(t, Stats{Issued: 15, Useful: 5}, a)
}
