package hierarchy

import (
	"fmt"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/coherence"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/profiles"
	"github.com/sarchlab/cachescope/timing"
	"github.com/sarchlab/cachescope/tlb"
)

// Builder can build memory systems.
type Builder struct {
	profile  profiles.Profile
	numCores int
	fastMode bool

	prefetchPolicy prefetch.Policy
	prefetchDegree int
	overridePF     bool

	tlbConfig tlb.Config
}

// MakeBuilder creates a builder with the educational profile and one core.
func MakeBuilder() Builder {
	p, _ := profiles.Lookup("educational")
	return Builder{
		profile:   p,
		numCores:  1,
		tlbConfig: tlb.DefaultConfig(),
	}
}

// WithProfile sets the hardware profile.
func (b Builder) WithProfile(p profiles.Profile) Builder {
	b.profile = p
	return b
}

// WithNumCores sets the number of simulated cores.
func (b Builder) WithNumCores(n int) Builder {
	b.numCores = n
	return b
}

// WithPrefetchPolicy overrides the profile's prefetch policy.
func (b Builder) WithPrefetchPolicy(p prefetch.Policy) Builder {
	b.prefetchPolicy = p
	b.overridePF = true
	return b
}

// WithPrefetchDegree overrides the profile's prefetch depth.
func (b Builder) WithPrefetchDegree(d int) Builder {
	b.prefetchDegree = d
	return b
}

// WithFastMode disables 3C miss classification.
func (b Builder) WithFastMode(fast bool) Builder {
	b.fastMode = fast
	return b
}

// WithTLBConfig sets the TLB geometry used for both dtlb and itlb.
func (b Builder) WithTLBConfig(cfg tlb.Config) Builder {
	b.tlbConfig = cfg
	return b
}

// Build validates the configuration and constructs the system. No event may
// be applied to a system whose build failed.
func (b Builder) Build() (*System, error) {
	if b.numCores < 1 {
		return nil, fmt.Errorf("hierarchy: core count must be at least 1, got %d", b.numCores)
	}
	if err := b.profile.Validate(); err != nil {
		return nil, err
	}
	if err := b.tlbConfig.Validate(); err != nil {
		return nil, err
	}

	policy := b.profile.Prefetch
	degree := b.profile.PrefetchDegree
	if b.overridePF {
		policy = b.prefetchPolicy
	}
	if b.prefetchDegree > 0 {
		degree = b.prefetchDegree
	}

	classify := !b.fastMode
	s := &System{
		profile:      b.profile,
		cores:        make([]core, b.numCores),
		dir:          coherence.NewDirectory(b.numCores),
		fs:           coherence.NewTracker(b.profile.L1D.LineSize),
		model:        timing.NewModel(b.profile.Latency),
		lineSize:     uint64(b.profile.L1D.LineSize),
		threadToCore: make(map[uint32]int),
		swLines:      make(map[uint64]struct{}),
	}

	if b.profile.HasL3() && b.profile.SharedL3 {
		s.sharedL3 = cache.NewLevel(b.profile.L3, classify)
	}
	for i := range s.cores {
		co := &s.cores[i]
		co.l1i = cache.NewLevel(b.profile.L1I, classify)
		co.l1d = cache.NewLevel(b.profile.L1D, classify)
		co.l2 = cache.NewLevel(b.profile.L2, classify)
		if b.profile.HasL3() && !b.profile.SharedL3 {
			co.l3 = cache.NewLevel(b.profile.L3, classify)
		}
		co.dtlb = tlb.New(b.tlbConfig)
		co.itlb = tlb.New(b.tlbConfig)
		co.pf = prefetch.NewEngine(policy, degree, b.profile.L1D.LineSize)
		s.dir.Register(i, co.l1d)
	}
	return s, nil
}
