package hybridkv

import "bytes"

// compareKeys orders keys lexicographically on unsigned bytes (spec
// section 3). The teacher's memtable.go reaches for a hand-rolled
// unsafe word-at-a-time comparator; bytes.Compare already implements
// exactly this ordering and does it without the alignment assumptions
// the teacher's version makes, so we use it directly (see DESIGN.md).
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
