// Package trace defines the memory-access event model and the decoders that
// turn raw instrumentation records into typed events.
package trace

// Kind classifies a memory-access event.
type Kind int

// The closed set of event kinds a decoder can produce.
const (
	Load Kind = iota
	Store
	InstructionFetch
	SoftwarePrefetch
	VectorLoad
	VectorStore
	AtomicLoad
	AtomicStore
	AtomicRMW
	AtomicCmpxchg
	MemcpySrc
	MemcpyDst
	Memset
	Memmove
)

var kindNames = map[Kind]string{
	Load:             "load",
	Store:            "store",
	InstructionFetch: "ifetch",
	SoftwarePrefetch: "prefetch",
	VectorLoad:       "vload",
	VectorStore:      "vstore",
	AtomicLoad:       "aload",
	AtomicStore:      "astore",
	AtomicRMW:        "armw",
	AtomicCmpxchg:    "acmpxchg",
	MemcpySrc:        "memcpy.src",
	MemcpyDst:        "memcpy.dst",
	Memset:           "memset",
	Memmove:          "memmove",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsWrite reports whether events of this kind modify memory.
func (k Kind) IsWrite() bool {
	switch k {
	case Store, VectorStore, AtomicStore, AtomicRMW,
		MemcpyDst, Memset, Memmove:
		return true
	}
	return false
}

// IsInstruction reports whether events of this kind go through the
// instruction-side caches.
func (k Kind) IsInstruction() bool {
	return k == InstructionFetch
}

// IsData reports whether events of this kind count as data accesses. Software
// prefetch hints warm the cache without counting as demand accesses.
func (k Kind) IsData() bool {
	return k != InstructionFetch && k != SoftwarePrefetch
}

// IsAtomic reports whether events of this kind come from atomic instructions.
func (k Kind) IsAtomic() bool {
	switch k {
	case AtomicLoad, AtomicStore, AtomicRMW, AtomicCmpxchg:
		return true
	}
	return false
}

// IsVector reports whether events of this kind come from SIMD instructions.
func (k Kind) IsVector() bool {
	return k == VectorLoad || k == VectorStore
}

// IsIntrinsic reports whether events of this kind come from memory
// intrinsics (memcpy, memset, memmove).
func (k Kind) IsIntrinsic() bool {
	switch k {
	case MemcpySrc, MemcpyDst, Memset, Memmove:
		return true
	}
	return false
}

// Location is a source position attached to an event. The zero value means
// the instrumentation had no source information.
type Location struct {
	File string
	Line uint32
}

// IsZero reports whether the location carries no information.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0
}

// Event is one decoded memory access. Addresses are stripped of the type
// bits the instrumentation runtime packs into their high bits.
type Event struct {
	Addr     uint64
	Size     uint32
	Kind     Kind
	ThreadID uint32
	Loc      Location

	// SourceAddr is set for copy/move kinds only: the address the data was
	// read from.
	SourceAddr uint64
}
