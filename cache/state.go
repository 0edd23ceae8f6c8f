package cache

// State is the MESI coherence state of a resident line.
type State uint8

// MESI states.
const (
	Invalid State = iota
	Shared
	Exclusive
	Modified
)

func (s State) String() string {
	switch s {
	case Modified:
		return "M"
	case Exclusive:
		return "E"
	case Shared:
		return "S"
	}
	return "I"
}

// CanWriteSilently reports whether a local write needs no bus transaction.
func (s State) CanWriteSilently() bool {
	return s == Modified || s == Exclusive
}
