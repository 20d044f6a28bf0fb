package bvh

import (
	"math"
	"math/bits"

	"github.com/kotturtech/OpenCLRayTracer/parallel"
)

// findSplit locates the position inside [first, last] where the
// highest differing Morton bit flips: the split that partitions the
// range into the two children of a radix tree node. When the whole
// range shares one code the range is split at its head.
func findSplit(pairs []parallel.Pair, first, last int) int {
	firstCode := pairs[first].Key
	lastCode := pairs[last].Key
	if firstCode == lastCode {
		return first
	}

	commonPrefix := bits.LeadingZeros32(firstCode ^ lastCode)

	// Binary search for the last position sharing more than
	// commonPrefix bits with firstCode.
	split := first
	step := last - first
	for {
		step = (step + 1) >> 1
		newSplit := split + step
		if newSplit < last {
			splitCode := pairs[newSplit].Key
			if bits.LeadingZeros32(firstCode^splitCode) > commonPrefix {
				split = newSplit
			}
		}
		if step <= 1 {
			break
		}
	}
	return split
}

// determineRange finds the leaf index range covered by internal node
// index. The direction of the range is chosen by comparing the prefix
// lengths towards both neighbors; its extent is found by exponential
// search followed by binary refinement. A run of identical codes around
// the node is handled by a linear scan over the run.
func determineRange(pairs []parallel.Pair, numLeaves, index int) (int, int) {
	if index == 0 {
		return 0, numLeaves - 1
	}

	code := pairs[index].Key
	leftCode := pairs[index-1].Key
	rightCode := pairs[index+1].Key

	if leftCode == code && rightCode == code {
		initial := index
		for index < numLeaves-1 && pairs[index].Key == pairs[index+1].Key {
			index++
		}
		return initial, index
	}

	dLeft := bits.LeadingZeros32(code ^ leftCode)
	dRight := bits.LeadingZeros32(code ^ rightCode)

	d := -1
	dMin := dRight
	if dRight > dLeft {
		d = 1
		dMin = dLeft
	}

	// Exponential search for an upper bound on the range length.
	lMax := 2
	for {
		probe := index + lMax*d
		if probe < 0 || probe >= numLeaves || bits.LeadingZeros32(code^pairs[probe].Key) <= dMin {
			break
		}
		lMax *= 2
	}

	// Binary refinement.
	l := 0
	for t := lMax / 2; t >= 1; t /= 2 {
		probe := index + (l+t)*d
		if probe >= 0 && probe < numLeaves && bits.LeadingZeros32(code^pairs[probe].Key) > dMin {
			l += t
		}
	}

	other := index + l*d
	if other < index {
		return other, index
	}
	return index, other
}

// constructNode fills in internal node idx of the radix tree: it
// resolves the node's leaf range, splits it and wires child and parent
// links. Children covering a single leaf point into the leaf section of
// the arena through the sorted pair values.
func constructNode(nodes []Node, pairs []parallel.Pair, numLeaves, idx int) {
	first, last := determineRange(pairs, numLeaves, idx)
	split := findSplit(pairs, first, last)

	var childA, childB uint32
	if split == first {
		childA = pairs[split].Value
	} else {
		childA = uint32(split + numLeaves)
	}
	if split+1 == last {
		childB = pairs[split+1].Value
	} else {
		childB = uint32(split + 1 + numLeaves)
	}

	nodeIndex := uint32(idx + numLeaves)
	nodes[nodeIndex].Left = childA
	nodes[nodeIndex].Right = childB
	nodes[childA].Parent = nodeIndex
	nodes[childB].Parent = nodeIndex
	if idx == 0 {
		nodes[nodeIndex].Parent = math.MaxUint32
	}
}
