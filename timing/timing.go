// Package timing accumulates cycle counts from per-access outcomes. The model
// is additive: each resolved touch charges the latency of the level that
// served it, plus a penalty when the address translation missed the TLB.
package timing

import "fmt"

// LatencyConfig holds per-level access latencies in core cycles.
type LatencyConfig struct {
	L1Hit          uint64 `json:"l1Hit"`
	L2Hit          uint64 `json:"l2Hit"`
	L3Hit          uint64 `json:"l3Hit"`
	Memory         uint64 `json:"memory"`
	TLBMissPenalty uint64 `json:"tlbMissPenalty"`
}

// Vendor latency defaults. Rough published load-to-use figures, not bit-exact
// hardware parity.
func IntelLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 4, L2Hit: 12, L3Hit: 40, Memory: 200, TLBMissPenalty: 20}
}

func AMDLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 4, L2Hit: 14, L3Hit: 47, Memory: 210, TLBMissPenalty: 20}
}

func AppleLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 3, L2Hit: 16, L3Hit: 40, Memory: 180, TLBMissPenalty: 16}
}

func ARMLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 4, L2Hit: 13, L3Hit: 45, Memory: 220, TLBMissPenalty: 24}
}

func RISCVLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 3, L2Hit: 12, L3Hit: 40, Memory: 200, TLBMissPenalty: 24}
}

// EducationalLatency uses round numbers for teaching traces.
func EducationalLatency() LatencyConfig {
	return LatencyConfig{L1Hit: 1, L2Hit: 10, L3Hit: 50, Memory: 100, TLBMissPenalty: 10}
}

// Validate rejects configurations a breakdown cannot be computed from.
func (c LatencyConfig) Validate() error {
	if c.L1Hit == 0 || c.Memory == 0 {
		return fmt.Errorf("timing: l1 hit and memory latencies must be nonzero")
	}
	if c.L1Hit > c.L2Hit || c.L2Hit > c.L3Hit || c.L3Hit > c.Memory {
		return fmt.Errorf("timing: latencies must be monotonic outward (l1 <= l2 <= l3 <= memory)")
	}
	return nil
}

// ResolveLevel names where an access was served.
type ResolveLevel int

const (
	ResolveL1 ResolveLevel = iota
	ResolveL2
	ResolveL3
	ResolveMemory
)

func (r ResolveLevel) String() string {
	switch r {
	case ResolveL1:
		return "L1"
	case ResolveL2:
		return "L2"
	case ResolveL3:
		return "L3"
	default:
		return "memory"
	}
}

// Breakdown partitions total cycles by resolving category.
type Breakdown struct {
	L1HitCycles   uint64 `json:"l1HitCycles"`
	L2HitCycles   uint64 `json:"l2HitCycles"`
	L3HitCycles   uint64 `json:"l3HitCycles"`
	MemoryCycles  uint64 `json:"memoryCycles"`
	TLBMissCycles uint64 `json:"tlbMissCycles"`
}

// Model accumulates cycles over a run.
type Model struct {
	cfg LatencyConfig

	totalCycles  uint64
	breakdown    Breakdown
	dataAccesses uint64
}

// NewModel builds a model over a validated configuration.
func NewModel(cfg LatencyConfig) *Model {
	return &Model{cfg: cfg}
}

// Config returns the active latency configuration.
func (m *Model) Config() LatencyConfig {
	return m.cfg
}

// Record charges one resolved access. Instruction fetches contribute to total
// cycles but stay out of the average-latency denominator, so callers pass
// isData=false for them.
func (m *Model) Record(level ResolveLevel, tlbMiss, isData bool) {
	var c uint64
	switch level {
	case ResolveL1:
		c = m.cfg.L1Hit
		m.breakdown.L1HitCycles += c
	case ResolveL2:
		c = m.cfg.L2Hit
		m.breakdown.L2HitCycles += c
	case ResolveL3:
		c = m.cfg.L3Hit
		m.breakdown.L3HitCycles += c
	default:
		c = m.cfg.Memory
		m.breakdown.MemoryCycles += c
	}
	m.totalCycles += c

	if tlbMiss {
		m.totalCycles += m.cfg.TLBMissPenalty
		m.breakdown.TLBMissCycles += m.cfg.TLBMissPenalty
	}
	if isData {
		m.dataAccesses++
	}
}

// TotalCycles returns the accumulated cycle count.
func (m *Model) TotalCycles() uint64 {
	return m.totalCycles
}

// Breakdown returns the per-category partition of TotalCycles.
func (m *Model) Breakdown() Breakdown {
	return m.breakdown
}

// AverageLatency is total cycles over data accesses. Zero when no data
// access was recorded.
func (m *Model) AverageLatency() float64 {
	if m.dataAccesses == 0 {
		return 0
	}
	return float64(m.totalCycles) / float64(m.dataAccesses)
}

// DataAccesses returns the average-latency denominator.
func (m *Model) DataAccesses() uint64 {
	return m.dataAccesses
}
