package cache

import "sort"

// reuseTracker maintains the LRU stack distance of line addresses,
// independent of the finite-associativity structure. The concrete cache
// alone cannot tell a capacity miss from a conflict miss; the tracker
// answers "how many distinct lines were touched since this line was last
// touched", which is what a fully-associative cache of the same size would
// have used to decide the eviction.
//
// Touches are numbered globally; a Fenwick tree over touch positions marks
// each line's most recent position so the distance query is a suffix count.
// The position space is compacted periodically so memory stays proportional
// to the number of distinct live lines, not the event count.
type reuseTracker struct {
	fen  []int          // Fenwick tree, 1-based
	pos  map[uint64]int // line address -> current position
	next int            // next position to assign
}

func newReuseTracker() *reuseTracker {
	return &reuseTracker{
		fen:  make([]int, 1024),
		pos:  make(map[uint64]int),
		next: 1,
	}
}

// Touch records an access to line and returns the number of distinct other
// lines touched since line's previous touch. seen is false for the
// first-ever touch.
func (t *reuseTracker) Touch(line uint64) (distance int, seen bool) {
	old, seen := t.pos[line]
	if seen {
		distance = len(t.pos) - t.prefix(old)
		t.add(old, -1)
	}

	if t.next >= len(t.fen) {
		t.compact()
	}
	t.pos[line] = t.next
	t.add(t.next, 1)
	t.next++

	return distance, seen
}

func (t *reuseTracker) add(i, delta int) {
	for ; i < len(t.fen); i += i & -i {
		t.fen[i] += delta
	}
}

func (t *reuseTracker) prefix(i int) int {
	sum := 0
	for ; i > 0; i -= i & -i {
		sum += t.fen[i]
	}
	return sum
}

// compact renumbers live lines in order, then regrows the tree so at least
// as many positions again are free before the next compaction.
func (t *reuseTracker) compact() {
	type entry struct {
		line uint64
		pos  int
	}
	live := make([]entry, 0, len(t.pos))
	for line, p := range t.pos {
		live = append(live, entry{line, p})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].pos < live[j].pos })

	size := 2 * (len(live) + 1)
	if size < 1024 {
		size = 1024
	}
	t.fen = make([]int, size)
	for i, e := range live {
		t.pos[e.line] = i + 1
		t.add(i+1, 1)
	}
	t.next = len(live) + 1
}
