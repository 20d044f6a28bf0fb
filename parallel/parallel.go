// Package parallel implements the data-parallel building blocks the
// acceleration structures are built from: a bitonic key/value sorter
// and a work-efficient prefix sum. Both operate on power-of-two sized
// device buffers; callers pad their data with sentinel values up to the
// next power of two.
package parallel

import "math"

// SentinelKey sorts behind every valid key, so padded entries collect
// at the tail of a sorted buffer.
const SentinelKey = math.MaxUint32

// Pair is a sortable key/value record.
type Pair struct {
	Key   uint32
	Value uint32
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}

// NextPowerOfTwo rounds v up to the nearest power of two.
func NextPowerOfTwo(v int) int {
	if v < 1 {
		return 1
	}
	out := 1
	for out < v {
		out <<= 1
	}
	return out
}
