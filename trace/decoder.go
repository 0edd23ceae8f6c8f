package trace

import (
	"encoding/binary"
	"errors"
	"io"
)

// The instrumentation runtime encodes the event type in the high bits of the
// address field. Bits 0-47 carry the (canonical user-space) address itself.
const (
	flagStore    = uint64(1) << 63
	flagICache   = uint64(1) << 62
	flagPrefetch = uint64(1) << 61
	flagVector   = uint64(1) << 60
	flagAtomic   = uint64(1) << 59
	flagIntr     = uint64(1) << 58

	// Subtype bits, meaningful only under their group flag.
	subAtomicRMW     = uint64(1) << 57
	subAtomicCmpxchg = uint64(1) << 56
	subIntrMemset    = uint64(1) << 57
	subIntrMemmove   = uint64(1) << 56

	addrMask = uint64(1)<<48 - 1
)

// recordSize is the wire size of one fixed-shape record: address with type
// bits, source address, access size, packed file-id:line, thread id.
const recordSize = 8 + 8 + 4 + 4 + 4

// locLineMask extracts the source line from the packed location word; the
// remaining high bits are the interned file-table index.
const locLineMask = (1 << 20) - 1

// ErrLimit is returned by Next once the configured max-event cap is reached.
// Reaching the cap is a normal way for a run to end.
var ErrLimit = errors.New("trace: event cap reached")

// Stats counts what the decoder saw. Intrinsic, vector, and atomic groups
// are counted per record, before expansion into cache touches.
type Stats struct {
	Records   uint64 // records decoded and emitted
	Skipped   uint64 // malformed records dropped
	Sampled   uint64 // records dropped by the sampling filter
	Truncated bool   // stream ended mid-record

	VectorLoads  uint64
	VectorStores uint64
	VectorBytes  uint64

	AtomicLoads    uint64
	AtomicStores   uint64
	AtomicRMWs     uint64
	AtomicCmpxchgs uint64

	MemcpyCount  uint64
	MemcpyBytes  uint64
	MemsetCount  uint64
	MemsetBytes  uint64
	MemmoveCount uint64
	MemmoveBytes uint64

	SoftwarePrefetches uint64
}

// A Decoder turns a raw record stream into Events. Decoding is forward-only:
// the input cannot be seeked, and a malformed record is skipped and counted
// rather than aborting the stream. Copy/move records expand into two events
// (a read of the source, a write of the destination); the pending event is
// buffered internally.
type Decoder struct {
	r         io.Reader
	fileTable []string

	sampleRate uint32
	sampleCnt  uint32
	maxEvents  uint64

	buf     [recordSize]byte
	pending []Event
	emitted uint64
	stats   Stats
	done    bool
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithFileTable supplies the interned file-name table the instrumentation
// runtime emitted out-of-band. Records referencing files beyond the table
// keep their line number but carry an empty file name.
func WithFileTable(files []string) DecoderOption {
	return func(d *Decoder) { d.fileTable = files }
}

// WithSampleRate keeps 1 of every n records. Rates below 2 disable sampling.
func WithSampleRate(n uint32) DecoderOption {
	return func(d *Decoder) { d.sampleRate = n }
}

// WithMaxEvents stops decoding after n events have been emitted. Copy/move
// records count both of their touches. Zero means no cap.
func WithMaxEvents(n uint64) DecoderOption {
	return func(d *Decoder) { d.maxEvents = n }
}

// NewDecoder creates a Decoder over a binary record stream.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{r: r}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Stats returns what the decoder has counted so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Next returns the next event. It returns io.EOF at the end of the stream
// and ErrLimit when the max-event cap is reached. A truncated final record
// is tolerated: it sets the Truncated stat and ends the stream.
func (d *Decoder) Next() (Event, error) {
	if d.maxEvents > 0 && d.emitted >= d.maxEvents {
		d.done = true
		d.pending = nil
		return Event{}, ErrLimit
	}

	if len(d.pending) > 0 {
		ev := d.pending[0]
		d.pending = d.pending[1:]
		d.emitted++
		return ev, nil
	}

	for {
		if d.done {
			return Event{}, io.EOF
		}

		_, err := io.ReadFull(d.r, d.buf[:])
		if err != nil {
			d.done = true
			if err == io.ErrUnexpectedEOF {
				d.stats.Truncated = true
				err = io.EOF
			}
			return Event{}, err
		}

		if d.sampleRate > 1 {
			d.sampleCnt++
			if d.sampleCnt < d.sampleRate {
				d.stats.Sampled++
				continue
			}
			d.sampleCnt = 0
		}

		evs, ok := d.decodeRecord()
		if !ok {
			d.stats.Skipped++
			continue
		}

		d.stats.Records++
		d.emitted++
		if len(evs) > 1 {
			d.pending = evs[1:]
		}
		return evs[0], nil
	}
}

// decodeRecord classifies the buffered record. It returns false for
// malformed records (zero size).
func (d *Decoder) decodeRecord() ([]Event, bool) {
	raw := binary.LittleEndian.Uint64(d.buf[0:8])
	src := binary.LittleEndian.Uint64(d.buf[8:16]) & addrMask
	size := binary.LittleEndian.Uint32(d.buf[16:20])
	loc := binary.LittleEndian.Uint32(d.buf[20:24])
	thread := binary.LittleEndian.Uint32(d.buf[24:28])

	if size == 0 {
		return nil, false
	}

	addr := raw & addrMask
	location := d.location(loc)

	base := Event{
		Addr:     addr,
		Size:     size,
		ThreadID: thread,
		Loc:      location,
	}

	switch {
	case raw&flagIntr != 0:
		return d.decodeIntrinsic(raw, base, src), true

	case raw&flagAtomic != 0:
		switch {
		case raw&subAtomicCmpxchg != 0:
			base.Kind = AtomicCmpxchg
			d.stats.AtomicCmpxchgs++
		case raw&subAtomicRMW != 0:
			base.Kind = AtomicRMW
			d.stats.AtomicRMWs++
		case raw&flagStore != 0:
			base.Kind = AtomicStore
			d.stats.AtomicStores++
		default:
			base.Kind = AtomicLoad
			d.stats.AtomicLoads++
		}

	case raw&flagVector != 0:
		if raw&flagStore != 0 {
			base.Kind = VectorStore
			d.stats.VectorStores++
		} else {
			base.Kind = VectorLoad
			d.stats.VectorLoads++
		}
		d.stats.VectorBytes += uint64(size)

	case raw&flagPrefetch != 0:
		base.Kind = SoftwarePrefetch
		d.stats.SoftwarePrefetches++

	case raw&flagICache != 0:
		base.Kind = InstructionFetch

	case raw&flagStore != 0:
		base.Kind = Store

	default:
		base.Kind = Load
	}

	return []Event{base}, true
}

func (d *Decoder) decodeIntrinsic(raw uint64, base Event, src uint64) []Event {
	switch {
	case raw&subIntrMemset != 0:
		base.Kind = Memset
		d.stats.MemsetCount++
		d.stats.MemsetBytes += uint64(base.Size)
		return []Event{base}

	case raw&subIntrMemmove != 0:
		d.stats.MemmoveCount++
		d.stats.MemmoveBytes += uint64(base.Size)
		read := base
		read.Kind = MemcpySrc
		read.Addr = src
		write := base
		write.Kind = Memmove
		write.SourceAddr = src
		return []Event{read, write}

	default:
		d.stats.MemcpyCount++
		d.stats.MemcpyBytes += uint64(base.Size)
		read := base
		read.Kind = MemcpySrc
		read.Addr = src
		write := base
		write.Kind = MemcpyDst
		write.SourceAddr = src
		return []Event{read, write}
	}
}

func (d *Decoder) location(packed uint32) Location {
	line := packed & locLineMask
	fileID := int(packed >> 20)
	loc := Location{Line: line}
	if fileID < len(d.fileTable) {
		loc.File = d.fileTable[fileID]
	}
	return loc
}
