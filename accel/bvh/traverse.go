package bvh

import (
	"math"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// Initial traversal stack capacity. The stack is a slice so hierarchies
// deeper than this (long equal-code chains) spill to the heap instead
// of corrupting memory.
const traversalStackSize = 64

// intersect walks the hierarchy for one ray and returns the closest
// contact. Inner nodes descend into every child whose box is ahead of
// the ray or wraps the ray origin; when both children qualify the
// second is parked on the stack.
func (m *Manager) intersect(r accel.Ray) accel.Contact {
	ray := geom.Ray{Origin: r.Origin, Direction: r.Direction}

	best := float32(math.MaxFloat32)
	var bestNormal types.Vec3
	bestTriangle := uint32(math.MaxUint32)

	nodes := m.nodes.Data()
	testLeaf := func(node *Node) {
		normal, t := geom.RayTriangle(ray, m.triangles[node.Triangle])
		if t > 0 && t < best {
			best = t
			bestNormal = normal
			bestTriangle = node.Triangle
		}
	}

	if m.numLeaves == 1 {
		testLeaf(&nodes[0])
	} else {
		var backing [traversalStackSize]uint32
		stack := backing[:0]
		current := uint32(m.numLeaves) // root

		for {
			node := &nodes[current]
			if node.Kind == InnerNode {
				a, b := node.Left, node.Right
				hitA := visitChild(ray, nodes[a].Box)
				hitB := visitChild(ray, nodes[b].Box)

				if hitA {
					if hitB {
						stack = append(stack, b)
					}
					current = a
					continue
				}
				if hitB {
					current = b
					continue
				}
			} else {
				testLeaf(node)
			}

			if len(stack) == 0 {
				break
			}
			current = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
		}
	}

	if bestTriangle == math.MaxUint32 {
		return accel.NoContact
	}
	return accel.Contact{
		Pixel:    r.Pixel,
		Material: m.materials[bestTriangle],
		T:        best,
		Normal:   bestNormal,
	}
}

func visitChild(ray geom.Ray, box geom.AABB) bool {
	return geom.RayAABB(ray, box) > 0 || box.ContainsPoint(ray.Origin)
}
