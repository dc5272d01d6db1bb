package tuple

import "bytes"

// Equal reports whether a and b pack to the same bytes — tuple equality
// as used by the index maintainer's array-fan-out diff (spec §4.F), which
// must treat String, Int64, UUID, and byte-array elements uniformly.
func Equal(a, b Tuple) bool {
	return bytes.Equal(Pack(a), Pack(b))
}

// Less reports whether a sorts strictly before b under the codec's
// order-preserving guarantee (spec §4.A, testable property 2).
func Less(a, b Tuple) bool {
	return bytes.Compare(Pack(a), Pack(b)) < 0
}

// Key renders t as a comparable map key, for building sets of tuples (used
// by the index maintainer's oldKeys\newKeys set difference).
func Key(t Tuple) string {
	return string(Pack(t))
}
