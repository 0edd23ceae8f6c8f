// Package profiles holds the named hardware presets a simulation can be
// configured from. Geometry figures come from vendor optimization manuals;
// where a real part's set count is not a power of two the preset rounds to
// the nearest simulatable geometry.
package profiles

import (
	"fmt"
	"sort"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/timing"
)

// Profile is an immutable hardware description. A zero L3 SizeBytes means
// the part has no L3.
type Profile struct {
	Name string

	L1D cache.Config
	L1I cache.Config
	L2  cache.Config
	L3  cache.Config

	// SharedL3 places one L3 behind all cores; otherwise each core gets a
	// private slice.
	SharedL3 bool

	Prefetch       prefetch.Policy
	PrefetchDegree int

	Latency timing.LatencyConfig
}

// HasL3 reports whether the profile includes a third level.
func (p Profile) HasL3() bool {
	return p.L3.SizeBytes > 0
}

// Validate checks every level's geometry and the latency table. It runs at
// build time, before any event is consumed.
func (p Profile) Validate() error {
	for _, lv := range []struct {
		name string
		cfg  cache.Config
	}{
		{"l1d", p.L1D},
		{"l1i", p.L1I},
		{"l2", p.L2},
	} {
		if err := lv.cfg.Validate(); err != nil {
			return fmt.Errorf("profile %s: %s: %w", p.Name, lv.name, err)
		}
	}
	if p.HasL3() {
		if err := p.L3.Validate(); err != nil {
			return fmt.Errorf("profile %s: l3: %w", p.Name, err)
		}
	}
	if p.L1D.LineSize != p.L2.LineSize || p.L1I.LineSize != p.L2.LineSize ||
		(p.HasL3() && p.L3.LineSize != p.L2.LineSize) {
		return fmt.Errorf("profile %s: line size must match across levels", p.Name)
	}
	if err := p.Latency.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return nil
}

func kb(n int) int { return n * 1024 }

func cc(sizeKB, assoc int) cache.Config {
	return cache.Config{SizeBytes: kb(sizeKB), LineSize: 64, Assoc: assoc}
}

var presets = map[string]Profile{
	"educational": {
		Name: "educational",
		L1D:  cc(1, 2), L1I: cc(1, 2), L2: cc(4, 4), L3: cc(16, 8),
		SharedL3: true,
		Prefetch: prefetch.None, PrefetchDegree: 0,
		Latency: timing.EducationalLatency(),
	},
	// Intel 12th gen (Alder Lake P-core).
	"intel": {
		Name: "intel",
		L1D:  cc(32, 8), L1I: cc(32, 8), L2: cc(1024, 8), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Hardware, PrefetchDegree: 4,
		Latency: timing.IntelLatency(),
	},
	// Intel 14th gen (Raptor Lake Refresh P-core).
	"intel14": {
		Name: "intel14",
		L1D:  cc(48, 12), L1I: cc(32, 8), L2: cc(2048, 16), L3: cc(36864, 18),
		SharedL3: true,
		Prefetch: prefetch.Hardware, PrefetchDegree: 4,
		Latency: timing.IntelLatency(),
	},
	// Intel Xeon Scalable (Ice Lake server).
	"xeon": {
		Name: "xeon",
		L1D:  cc(48, 12), L1I: cc(32, 8), L2: cc(1280, 20), L3: cc(49152, 12),
		SharedL3: true,
		Prefetch: prefetch.Hardware, PrefetchDegree: 4,
		Latency: timing.IntelLatency(),
	},
	// Xeon Platinum 8488C (Sapphire Rapids); real 105MB/15-way L3 rounded
	// to 96MB/12-way for a power-of-two set count.
	"sapphire": {
		Name: "sapphire",
		L1D:  cc(48, 12), L1I: cc(32, 8), L2: cc(2048, 16), L3: cc(98304, 12),
		SharedL3: true,
		Prefetch: prefetch.Hardware, PrefetchDegree: 4,
		Latency: timing.IntelLatency(),
	},
	// AMD Zen 4.
	"amd": {
		Name: "amd",
		L1D:  cc(32, 8), L1I: cc(32, 8), L2: cc(1024, 8), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 4,
		Latency: timing.AMDLatency(),
	},
	"zen3": {
		Name: "zen3",
		L1D:  cc(32, 8), L1I: cc(32, 8), L2: cc(512, 8), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 4,
		Latency: timing.AMDLatency(),
	},
	// EPYC Milan/Genoa full-socket L3.
	"epyc": {
		Name: "epyc",
		L1D:  cc(32, 8), L1I: cc(32, 8), L2: cc(512, 8), L3: cc(262144, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 4,
		Latency: timing.AMDLatency(),
	},
	// Apple M-series P-core cluster.
	"apple": {
		Name: "apple",
		L1D:  cc(64, 8), L1I: cc(128, 8), L2: cc(4096, 16), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 8,
		Latency: timing.AppleLatency(),
	},
	"m2": {
		Name: "m2",
		L1D:  cc(128, 8), L1I: cc(192, 6), L2: cc(16384, 16), L3: cc(24576, 12),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 8,
		Latency: timing.AppleLatency(),
	},
	"m3": {
		Name: "m3",
		L1D:  cc(128, 8), L1I: cc(192, 6), L2: cc(32768, 16), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 8,
		Latency: timing.AppleLatency(),
	},
	// AWS Graviton 3 (Neoverse V1).
	"graviton": {
		Name: "graviton",
		L1D:  cc(64, 4), L1I: cc(64, 4), L2: cc(1024, 8), L3: cc(32768, 16),
		SharedL3: true,
		Prefetch: prefetch.Stream, PrefetchDegree: 2,
		Latency: timing.ARMLatency(),
	},
	// Raspberry Pi 4 (Cortex-A72), no L3.
	"rpi4": {
		Name: "rpi4",
		L1D:  cc(32, 2), L1I: cc(48, 3), L2: cc(1024, 16),
		Prefetch: prefetch.Stream, PrefetchDegree: 2,
		Latency: timing.ARMLatency(),
	},
	// Cortex-A53 class embedded part, no L3, no prefetch.
	"embedded": {
		Name: "embedded",
		L1D:  cc(32, 4), L1I: cc(32, 2), L2: cc(512, 8),
		Prefetch: prefetch.None, PrefetchDegree: 0,
		Latency: timing.ARMLatency(),
	},
	// SiFive U74, no L3.
	"sifive": {
		Name: "sifive",
		L1D:  cc(32, 8), L1I: cc(32, 4), L2: cc(2048, 16),
		Prefetch: prefetch.NextLine, PrefetchDegree: 1,
		Latency: timing.RISCVLatency(),
	},
}

var aliases = map[string]string{
	"edu":       "educational",
	"intel12":   "intel",
	"zen4":      "amd",
	"m1":        "apple",
	"arm":       "graviton",
	"riscv":     "sifive",
	"raspberry": "rpi4",
}

// Lookup resolves a preset name or alias.
func Lookup(name string) (Profile, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	p, ok := presets[name]
	if !ok {
		return Profile{}, fmt.Errorf("profiles: unknown preset %q (available: %v)", name, Names())
	}
	return p, nil
}

// Names lists the canonical preset names, sorted.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Custom builds a profile from explicit sizes, validated like a preset.
// l3SizeBytes may be zero for a two-level hierarchy. The L1 instruction
// cache mirrors the data cache geometry.
func Custom(l1SizeBytes, l1Assoc, lineSize, l2SizeBytes, l2Assoc, l3SizeBytes, l3Assoc int) (Profile, error) {
	p := Profile{
		Name:     "custom",
		L1D:      cache.Config{SizeBytes: l1SizeBytes, LineSize: lineSize, Assoc: l1Assoc},
		L1I:      cache.Config{SizeBytes: l1SizeBytes, LineSize: lineSize, Assoc: l1Assoc},
		L2:       cache.Config{SizeBytes: l2SizeBytes, LineSize: lineSize, Assoc: l2Assoc},
		SharedL3: true,
		Prefetch: prefetch.None,
		Latency:  timing.IntelLatency(),
	}
	if l3SizeBytes > 0 {
		p.L3 = cache.Config{SizeBytes: l3SizeBytes, LineSize: lineSize, Assoc: l3Assoc}
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}
