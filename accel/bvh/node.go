package bvh

import "github.com/kotturtech/OpenCLRayTracer/geom"

type NodeKind uint32

const (
	InnerNode NodeKind = iota
	LeafNode
)

// Node is one slot of the flat hierarchy arena. For numLeaves leaves
// the arena holds 2*numLeaves-1 nodes: leaves occupy [0, numLeaves) in
// primitive order, internal nodes occupy [numLeaves, 2*numLeaves-1)
// and the root sits at index numLeaves.
type Node struct {
	Box    geom.AABB
	Parent uint32

	// Child links; valid for inner nodes only.
	Left  uint32
	Right uint32

	// Global triangle index; valid for leaves only.
	Triangle uint32

	Kind NodeKind
}
