package trace

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// TextDecoder reads the line-oriented trace format:
//
//	L <hexaddr> <size> [file:line] [T<n>]
//	S <hexaddr> <size> [file:line] [T<n>]
//	I <hexaddr> <size> [file:line] [T<n>]
//
// Lines starting with '#' are comments. Unparseable lines are skipped and
// counted, matching the binary decoder's contract.
type TextDecoder struct {
	sc *bufio.Scanner

	sampleRate uint32
	sampleCnt  uint32
	maxEvents  uint64

	stats Stats
	done  bool
}

// NewTextDecoder creates a decoder over a text trace. The sampling and cap
// options of the binary decoder apply here too; the file-table option is
// meaningless because text records spell out their file names.
func NewTextDecoder(r io.Reader, opts ...DecoderOption) *TextDecoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return &TextDecoder{
		sc:         bufio.NewScanner(r),
		sampleRate: d.sampleRate,
		maxEvents:  d.maxEvents,
	}
}

// Stats returns what the decoder has counted so far.
func (d *TextDecoder) Stats() Stats {
	return d.stats
}

// Next returns the next event, io.EOF at stream end, or ErrLimit at the cap.
func (d *TextDecoder) Next() (Event, error) {
	for {
		if d.done {
			return Event{}, io.EOF
		}
		if d.maxEvents > 0 && d.stats.Records >= d.maxEvents {
			d.done = true
			return Event{}, ErrLimit
		}
		if !d.sc.Scan() {
			d.done = true
			if err := d.sc.Err(); err != nil {
				return Event{}, err
			}
			return Event{}, io.EOF
		}

		line := strings.TrimSpace(d.sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}

		ev, ok := parseTextEvent(line)
		if !ok {
			d.stats.Skipped++
			continue
		}

		if d.sampleRate > 1 {
			d.sampleCnt++
			if d.sampleCnt < d.sampleRate {
				d.stats.Sampled++
				continue
			}
			d.sampleCnt = 0
		}

		d.stats.Records++
		return ev, nil
	}
}

func parseTextEvent(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields[0]) != 1 {
		return Event{}, false
	}

	var kind Kind
	switch fields[0][0] {
	case 'L', 'l':
		kind = Load
	case 'S', 's':
		kind = Store
	case 'I', 'i':
		kind = InstructionFetch
	case 'P', 'p':
		kind = SoftwarePrefetch
	default:
		return Event{}, false
	}

	addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
	if err != nil {
		return Event{}, false
	}

	size, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil || size == 0 {
		return Event{}, false
	}

	ev := Event{
		Addr:     addr & addrMask,
		Size:     uint32(size),
		Kind:     kind,
		ThreadID: 1,
	}

	for _, f := range fields[3:] {
		if len(f) > 1 && f[0] == 'T' {
			if tid, err := strconv.ParseUint(f[1:], 10, 32); err == nil {
				ev.ThreadID = uint32(tid)
			}
			continue
		}
		if colon := strings.LastIndexByte(f, ':'); colon > 0 {
			if n, err := strconv.ParseUint(f[colon+1:], 10, 32); err == nil {
				ev.Loc = Location{File: f[:colon], Line: uint32(n)}
				continue
			}
		}
		ev.Loc = Location{File: f}
	}

	return ev, true
}
