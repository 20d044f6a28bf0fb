// Package grid implements a two-level uniform grid acceleration
// structure. A coarse top-level grid is sized from the primitive
// density of the scene; every occupied top-level cell carries its own
// adaptive leaf sub-grid sized from the density of the primitives that
// fell into it. Construction is fully data-parallel: both levels use
// the same count / prefix-sum / write idiom followed by a bitonic sort
// of cell-primitive pairs and a neighbor-comparison range extraction.
package grid

import (
	"math"

	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// TopLevelCell describes the leaf sub-grid of one top-level cell: its
// per-axis resolution and the index of its first leaf cell in the flat
// leaf range array. A zero resolution marks an empty cell.
type TopLevelCell struct {
	ResX, ResY, ResZ uint32
	FirstLeaf        uint32
}

// CellRange is a half-open [Start, End) span into a sorted pair array.
// The zero value is the empty range.
type CellRange struct {
	Start uint32
	End   uint32
}

// gridData describes one uniform grid level: its bounds, per-axis cell
// counts and the world-space size of a single cell.
type gridData struct {
	box  geom.AABB
	res  [3]int32
	step types.Vec3
}

// newGridData sizes a grid level over box so that the expected number
// of primitives per cell approaches the given density: each axis gets
// floor(extent * cbrt(density * numPrims / volume)) cells, clamped to
// at least one so no primitive can land outside the cell lattice.
func newGridData(box geom.AABB, numPrims int, density float32) gridData {
	extents := box.Extents()
	a := float32(math.Cbrt(float64(density) * float64(numPrims) / float64(box.Volume())))

	g := gridData{box: box}
	for axis := 0; axis < 3; axis++ {
		res := int32(extents[axis] * a)
		if res < 1 {
			res = 1
		}
		g.res[axis] = res
		g.step[axis] = extents[axis] / float32(res)
	}
	return g
}

// cellGrid reconstitutes the leaf grid of a top-level cell from its
// stored resolution and world-space box.
func cellGrid(cell TopLevelCell, box geom.AABB) gridData {
	g := gridData{
		box: box,
		res: [3]int32{int32(cell.ResX), int32(cell.ResY), int32(cell.ResZ)},
	}
	extents := box.Extents()
	for axis := 0; axis < 3; axis++ {
		g.step[axis] = extents[axis] / float32(g.res[axis])
	}
	return g
}

func (g gridData) numCells() int {
	return int(g.res[0] * g.res[1] * g.res[2])
}

// cellIndex flattens 3D cell coordinates in x-major, z-slowest order.
func (g gridData) cellIndex(ix, iy, iz int32) uint32 {
	return uint32((iz*g.res[1]+iy)*g.res[0] + ix)
}

// cellCoords inverts cellIndex.
func (g gridData) cellCoords(index uint32) (ix, iy, iz int32) {
	i := int32(index)
	ix = i % g.res[0]
	iy = (i / g.res[0]) % g.res[1]
	iz = i / (g.res[0] * g.res[1])
	return ix, iy, iz
}

// cellBox returns the world-space bounds of one cell.
func (g gridData) cellBox(ix, iy, iz int32) geom.AABB {
	min := types.Vec3{
		g.box.Min[0] + float32(ix)*g.step[0],
		g.box.Min[1] + float32(iy)*g.step[1],
		g.box.Min[2] + float32(iz)*g.step[2],
	}
	return geom.AABB{Min: min, Max: min.Add(g.step)}
}

// cellSpan returns the inclusive cell coordinate range covered by box,
// clamped to the grid lattice. The pair-generation passes iterate this
// span on both the counting and the writing side, so the written pair
// count can never exceed the counted one.
func (g gridData) cellSpan(box geom.AABB) (lo, hi [3]int32) {
	for axis := 0; axis < 3; axis++ {
		l := int32((box.Min[axis] - g.box.Min[axis]) / g.step[axis])
		h := int32((box.Max[axis] - g.box.Min[axis]) / g.step[axis])
		if l < 0 {
			l = 0
		} else if l > g.res[axis]-1 {
			l = g.res[axis] - 1
		}
		if h < 0 {
			h = 0
		} else if h > g.res[axis]-1 {
			h = g.res[axis] - 1
		}
		lo[axis], hi[axis] = l, h
	}
	return lo, hi
}

// spanSize returns the number of cells in an inclusive coordinate span.
func spanSize(lo, hi [3]int32) uint32 {
	return uint32((hi[0] - lo[0] + 1) * (hi[1] - lo[1] + 1) * (hi[2] - lo[2] + 1))
}
