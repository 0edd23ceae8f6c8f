package trace

import (
	"bufio"
	"fmt"
	"io"
)

// Source is the decoder side of the pipeline: anything that yields a totally
// ordered stream of events.
type Source interface {
	Next() (Event, error)
	Stats() Stats
}

// Format names a trace encoding.
type Format string

// Supported trace encodings.
const (
	FormatAuto   Format = "auto"
	FormatBinary Format = "binary"
	FormatText   Format = "text"
)

// NewSource opens a decoder for the given format. FormatAuto sniffs the
// first bytes of the stream: a text trace starts with a record letter or a
// comment, anything else is treated as binary records.
func NewSource(r io.Reader, format Format, opts ...DecoderOption) (Source, error) {
	switch format {
	case FormatBinary:
		return NewDecoder(r, opts...), nil
	case FormatText:
		return NewTextDecoder(r, opts...), nil
	case FormatAuto, "":
		br := bufio.NewReader(r)
		head, _ := br.Peek(1)
		if len(head) == 1 && isTextLead(head[0]) {
			return NewTextDecoder(br, opts...), nil
		}
		return NewDecoder(br, opts...), nil
	default:
		return nil, fmt.Errorf("trace: unknown format %q", format)
	}
}

func isTextLead(b byte) bool {
	switch b {
	case 'L', 'l', 'S', 's', 'I', 'i', 'P', 'p', '#', '\n', ' ':
		return true
	}
	return false
}
