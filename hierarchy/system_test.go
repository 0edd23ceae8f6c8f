package hierarchy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cachescope/cache"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/profiles"
	"github.com/sarchlab/cachescope/trace"
)

func mustProfile(name string) profiles.Profile {
	p, err := profiles.Lookup(name)
	Expect(err).ToNot(HaveOccurred())
	return p
}

func load(addr uint64, size uint32) trace.Event {
	return trace.Event{Addr: addr, Size: size, Kind: trace.Load, ThreadID: 1}
}

func store(addr uint64, size uint32, thread uint32) trace.Event {
	return trace.Event{Addr: addr, Size: size, Kind: trace.Store, ThreadID: thread}
}

// replay feeds events and returns total L1d misses.
func replay(s *hierarchy.System, events []trace.Event) uint64 {
	for _, ev := range events {
		s.Apply(ev)
	}
	return s.Stats().L1D.Misses
}

// arrayPass emits one sequential 4-byte pass over n elements at base.
func arrayPass(base uint64, n int) []trace.Event {
	events := make([]trace.Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, load(base+uint64(i)*4, 4))
	}
	return events
}

var _ = Describe("System", func() {
	var s *hierarchy.System

	Context("with the intel profile", func() {
		BeforeEach(func() {
			var err error
			s, err = hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithNumCores(1).
				WithPrefetchPolicy(prefetch.None).
				Build()
			Expect(err).ToNot(HaveOccurred())
		})

		It("misses once per line on a cold sequential array pass", func() {
			replay(s, arrayPass(0x10000, 1024))

			st := s.Stats()
			Expect(st.L1D.Misses).To(Equal(uint64(64)))
			Expect(st.L1D.Hits).To(Equal(uint64(960)))
			Expect(st.L1D.HitRate()).To(BeNumerically("~", 0.9375, 1e-9))
		})

		It("conserves touches at every level", func() {
			replay(s, arrayPass(0x10000, 1024))

			st := s.Stats()
			Expect(st.L1D.Hits + st.L1D.Misses).To(Equal(st.L1D.Accesses()))
			Expect(st.L2.Accesses()).To(Equal(st.L1D.Misses))
			Expect(st.L3.Accesses()).To(Equal(st.L2.Misses))
		})

		It("never hits when the stride equals the line size", func() {
			var events []trace.Event
			for i := 0; i < 256; i++ {
				events = append(events, load(0x10000+uint64(i)*64, 4))
			}
			replay(s, events)

			Expect(s.Stats().L1D.Hits).To(BeZero())
		})

		It("hits three of four touches with a 16-byte stride", func() {
			var events []trace.Event
			for i := 0; i < 256; i++ {
				events = append(events, load(0x10000+uint64(i)*16, 4))
			}
			replay(s, events)

			Expect(s.Stats().L1D.HitRate()).To(BeNumerically("~", 0.75, 1e-9))
		})

		It("splits an access spanning two lines into two touches", func() {
			outcomes := s.Apply(load(0x1003c, 8))
			Expect(outcomes).To(HaveLen(2))
			Expect(s.Stats().L1D.Accesses()).To(Equal(uint64(2)))
		})

		It("routes instruction fetches to the L1i", func() {
			s.Apply(trace.Event{Addr: 0x400000, Size: 4, Kind: trace.InstructionFetch, ThreadID: 1})

			st := s.Stats()
			Expect(st.L1I.Accesses()).To(Equal(uint64(1)))
			Expect(st.L1D.Accesses()).To(BeZero())
		})

		It("keeps instruction fetches out of the average-latency denominator", func() {
			s.Apply(trace.Event{Addr: 0x400000, Size: 4, Kind: trace.InstructionFetch, ThreadID: 1})
			Expect(s.Timing().DataAccesses()).To(BeZero())

			s.Apply(load(0x10000, 4))
			Expect(s.Timing().DataAccesses()).To(Equal(uint64(1)))
			Expect(s.Timing().TotalCycles()).ToNot(BeZero())
		})

		It("reports fewer misses for row-major than column-major traversal", func() {
			const n = 256
			base := uint64(0x100000)

			rowMajor, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithPrefetchPolicy(prefetch.None).
				WithNumCores(1).Build()
			Expect(err).ToNot(HaveOccurred())

			var rowEvents, colEvents []trace.Event
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					rowEvents = append(rowEvents, load(base+uint64(i*n+j)*4, 4))
					colEvents = append(colEvents, load(base+uint64(j*n+i)*4, 4))
				}
			}

			rowMisses := replay(rowMajor, rowEvents)
			colMisses := replay(s, colEvents)
			Expect(rowMisses).To(BeNumerically("<", colMisses))
		})
	})

	Context("comparing presets on one program", func() {
		It("never reports fewer misses from a smaller L1", func() {
			events := arrayPass(0x10000, 4096)

			small, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("educational")).
				WithNumCores(1).Build()
			Expect(err).ToNot(HaveOccurred())

			big, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithPrefetchPolicy(prefetch.None).
				WithNumCores(1).Build()
			Expect(err).ToNot(HaveOccurred())

			Expect(replay(small, events)).To(BeNumerically(">=", replay(big, events)))
		})
	})

	Context("write-back chains", func() {
		It("counts the L2 victim displaced by an L1 write-back install", func() {
			// Educational geometry: L1d 1KB/2w and L2 4KB/4w, so a 0x400
			// stride lands every line in set 0 of both. Line 0 stays write-hot
			// in L1 while lines 1..6 stream through, which makes L2 drop its
			// clean copy of line 0; evicting line 0 from L1 afterwards must
			// write it back into a full dirty L2 set and count that set's own
			// victim.
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("educational")).
				WithNumCores(1).Build()
			Expect(err).ToNot(HaveOccurred())

			line := func(k uint64) uint64 { return 0x100000 + k*0x400 }
			var events []trace.Event
			for k := uint64(1); k <= 6; k++ {
				events = append(events, store(line(0), 4, 1))
				events = append(events, store(line(k), 4, 1))
			}
			events = append(events, store(line(7), 4, 1))
			Expect(events).To(HaveLen(13))

			replay(s, events)
			Expect(s.Stats().L2.Writebacks).To(Equal(uint64(4)))
		})
	})

	Context("with multiple cores", func() {
		BeforeEach(func() {
			var err error
			s, err = hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithNumCores(4).
				WithPrefetchPolicy(prefetch.None).
				Build()
			Expect(err).ToNot(HaveOccurred())
		})

		It("flags two threads writing disjoint fields of one line", func() {
			for i := 0; i < 100; i++ {
				s.Apply(store(0x20000, 4, 1))
				s.Apply(store(0x20020, 4, 2))
			}

			st := s.Stats()
			Expect(st.FalseSharingEvents).To(Equal(uint64(1)))
			Expect(st.Invalidations).To(BeNumerically(">", 0))

			reports := s.FalseSharingReports()
			Expect(reports).To(HaveLen(1))
			Expect(reports[0].LineAddr).To(Equal(uint64(0x20000)))

			threads := map[uint32]bool{}
			offsets := map[uint32]bool{}
			for _, a := range reports[0].Accesses {
				threads[a.Thread] = true
				offsets[a.Offset] = true
			}
			Expect(threads).To(HaveKey(uint32(1)))
			Expect(threads).To(HaveKey(uint32(2)))
			Expect(len(offsets)).To(BeNumerically(">=", 2))
		})

		It("stays quiet when threads write separate lines", func() {
			for i := 0; i < 100; i++ {
				s.Apply(store(0x20000, 4, 1))
				s.Apply(store(0x20100, 4, 2))
			}

			Expect(s.Stats().FalseSharingEvents).To(BeZero())
			Expect(s.FalseSharingReports()).To(BeEmpty())
		})

		It("forces a re-fetch after a remote write invalidates a line", func() {
			// Thread 1 (core 0) reads, thread 2 (core 1) writes the line.
			s.Apply(load(0x30000, 4))
			s.Apply(store(0x30000, 4, 2))

			Expect(s.L1DState(0, 0x30000)).To(Equal(cache.Invalid))

			outcomes := s.Apply(load(0x30000, 4))
			Expect(outcomes[0].L1Hit).To(BeFalse())
		})

		It("downgrades a remote modified line on read", func() {
			s.Apply(store(0x30000, 4, 1)) // core 0, Modified
			s.Apply(trace.Event{Addr: 0x30000, Size: 4, Kind: trace.Load, ThreadID: 2})

			Expect(s.L1DState(0, 0x30000)).To(Equal(cache.Shared))
			Expect(s.L1DState(1, 0x30000)).To(Equal(cache.Shared))
		})

		It("installs an unshared read as Exclusive", func() {
			s.Apply(load(0x40000, 4))
			Expect(s.L1DState(0, 0x40000)).To(Equal(cache.Exclusive))
		})

		It("assigns threads to cores round-robin", func() {
			for t := uint32(1); t <= 8; t++ {
				s.Apply(load(uint64(t)*0x1000, 4))
				s.Apply(trace.Event{Addr: uint64(t) * 0x1000, Size: 4, Kind: trace.Load, ThreadID: t})
			}
			Expect(s.NumCores()).To(Equal(4))
		})
	})

	Context("with prefetching", func() {
		It("credits a useful prefetch exactly once", func() {
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithPrefetchPolicy(prefetch.NextLine).
				WithPrefetchDegree(1).
				WithNumCores(1).
				Build()
			Expect(err).ToNot(HaveOccurred())

			s.Apply(load(0x50000, 4)) // miss, prefetches 0x50040
			s.Apply(load(0x50040, 4)) // demand hit on prefetched line

			st := s.Stats()
			Expect(st.Prefetch.Issued).To(BeNumerically(">", 0))
			Expect(st.Prefetch.Useful).To(Equal(uint64(1)))
			Expect(st.L1D.Hits).To(Equal(uint64(1)))
		})

		It("does not count prefetch fills as demand accesses", func() {
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithPrefetchPolicy(prefetch.NextLine).
				WithPrefetchDegree(4).
				WithNumCores(1).
				Build()
			Expect(err).ToNot(HaveOccurred())

			s.Apply(load(0x50000, 4))

			// One demand touch regardless of how many lines were fetched.
			Expect(s.Stats().L1D.Accesses()).To(Equal(uint64(1)))
		})

		It("tracks software prefetch hints separately", func() {
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("intel")).
				WithPrefetchPolicy(prefetch.None).
				WithNumCores(1).
				Build()
			Expect(err).ToNot(HaveOccurred())

			s.Apply(trace.Event{Addr: 0x60000, Size: 64, Kind: trace.SoftwarePrefetch, ThreadID: 1})
			s.Apply(load(0x60000, 4))

			st := s.Stats()
			Expect(st.SoftwarePrefetch.Issued).To(Equal(uint64(1)))
			Expect(st.SoftwarePrefetch.Useful).To(Equal(uint64(1)))
			Expect(st.Prefetch.Useful).To(BeZero())
			Expect(st.L1D.Hits).To(Equal(uint64(1)))
		})
	})

	Context("without an L3", func() {
		It("resolves L2 misses in memory", func() {
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("rpi4")).
				WithNumCores(1).
				WithPrefetchPolicy(prefetch.None).
				Build()
			Expect(err).ToNot(HaveOccurred())

			outcomes := s.Apply(load(0x70000, 4))
			Expect(outcomes[0].Level.String()).To(Equal("memory"))
			Expect(s.Stats().HasL3).To(BeFalse())
		})
	})

	Context("fast mode", func() {
		It("leaves the 3C buckets uncomputed", func() {
			s, err := hierarchy.MakeBuilder().
				WithProfile(mustProfile("educational")).
				WithFastMode(true).
				WithNumCores(1).
				Build()
			Expect(err).ToNot(HaveOccurred())

			replay(s, arrayPass(0x10000, 256))

			st := s.Stats()
			Expect(st.L1D.Classified).To(BeFalse())
			Expect(st.L1D.Compulsory).To(BeZero())
			Expect(st.L1D.Misses).ToNot(BeZero())
		})
	})

	Context("builder validation", func() {
		It("rejects a zero core count", func() {
			_, err := hierarchy.MakeBuilder().WithNumCores(0).Build()
			Expect(err).To(HaveOccurred())
		})

		It("rejects an invalid profile", func() {
			bad := mustProfile("intel")
			bad.L1D.LineSize = 48
			_, err := hierarchy.MakeBuilder().WithProfile(bad).Build()
			Expect(err).To(HaveOccurred())
		})
	})
})
