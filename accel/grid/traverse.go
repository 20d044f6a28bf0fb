package grid

import (
	"math"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// ddaState is the per-ray marching state across one grid level: the
// current cell, the crossing parameter of the next boundary on each
// axis, the per-cell parameter increment, and the step direction and
// stopping coordinate derived from the ray direction sign.
type ddaState struct {
	idx  [3]int32
	next [3]float32
	dt   [3]float32
	step [3]int32
	stop [3]int32
}

// setupDDA computes the starting cell and crossing parameters of a ray
// against one grid level. ok is false when the ray misses the grid
// bounds entirely. A zero direction component parks that axis at the
// float limit so the marching loop never steps along it.
func setupDDA(ray geom.Ray, g gridData) (st ddaState, ok bool) {
	var tmin, tmax [3]float32
	for axis := 0; axis < 3; axis++ {
		a := 1.0 / ray.Direction[axis]
		if a >= 0 {
			tmin[axis] = (g.box.Min[axis] - ray.Origin[axis]) * a
			tmax[axis] = (g.box.Max[axis] - ray.Origin[axis]) * a
		} else {
			tmin[axis] = (g.box.Max[axis] - ray.Origin[axis]) * a
			tmax[axis] = (g.box.Min[axis] - ray.Origin[axis]) * a
		}
	}
	t0 := maxf(tmin[0], maxf(tmin[1], tmin[2]))
	t1 := minf(tmax[0], minf(tmax[1], tmax[2]))
	if t0 > t1 || t1 < 0 {
		return st, false
	}

	p := ray.Origin
	if !g.box.ContainsPoint(p) {
		p = p.Add(ray.Direction.Mul(t0))
	}
	for axis := 0; axis < 3; axis++ {
		res := float32(g.res[axis])
		v := (p[axis] - g.box.Min[axis]) * res / (g.box.Max[axis] - g.box.Min[axis])
		if v < 0 {
			v = 0
		} else if v > res-1 {
			v = res - 1
		}
		st.idx[axis] = int32(v)
		st.dt[axis] = (tmax[axis] - tmin[axis]) / res

		if ray.Direction[axis] > 0 {
			st.next[axis] = tmin[axis] + float32(st.idx[axis]+1)*st.dt[axis]
			st.step[axis] = 1
			st.stop[axis] = g.res[axis]
		} else {
			if ray.Direction[axis] == 0 {
				st.next[axis] = math.MaxFloat32
			} else {
				st.next[axis] = tmin[axis] + float32(g.res[axis]-st.idx[axis])*st.dt[axis]
			}
			st.step[axis] = -1
			st.stop[axis] = -1
		}
	}
	return st, true
}

// advance steps into the neighboring cell across the boundary with the
// smallest crossing parameter. Returns false once the ray leaves the
// grid.
func (st *ddaState) advance() bool {
	axis := 0
	if st.next[1] < st.next[axis] {
		axis = 1
	}
	if st.next[2] < st.next[axis] {
		axis = 2
	}
	st.next[axis] += st.dt[axis]
	st.idx[axis] += st.step[axis]
	return st.idx[axis] != st.stop[axis]
}

// intersect marches one ray across the top-level grid and recurses into
// the leaf sub-grid of every occupied cell it crosses. The outer march
// stops the moment an inner cell yields a contact: cells are visited in
// increasing ray-parameter order, so the first cell to produce any hit
// holds the closest one among the pairs recorded for it.
func (m *Manager) intersect(r accel.Ray) accel.Contact {
	ray := geom.Ray{Origin: r.Origin, Direction: r.Direction}
	st, ok := setupDDA(ray, m.grid)
	if !ok {
		return accel.NoContact
	}

	cells := m.topLevelCells.Data()
	for {
		ix, iy, iz := st.idx[0], st.idx[1], st.idx[2]
		cell := cells[m.grid.cellIndex(ix, iy, iz)]
		if cell.ResX != 0 && cell.ResY != 0 && cell.ResZ != 0 {
			if contact, found := m.processCell(r, ray, cell, m.grid.cellBox(ix, iy, iz)); found {
				return contact
			}
		}
		if !st.advance() {
			return accel.NoContact
		}
	}
}

// processCell marches the inner DDA over one top-level cell's leaf
// sub-grid, testing every triangle referenced by each crossed leaf
// cell's pair range and keeping the closest strictly-positive hit.
func (m *Manager) processCell(r accel.Ray, ray geom.Ray, cell TopLevelCell, box geom.AABB) (accel.Contact, bool) {
	leaf := cellGrid(cell, box)
	st, ok := setupDDA(ray, leaf)
	if !ok {
		return accel.NoContact, false
	}

	ranges := m.leafRanges.Data()
	pairs := m.leafPairs.Data()

	best := float32(math.MaxFloat32)
	var bestNormal types.Vec3
	bestTriangle := uint32(math.MaxUint32)

	for {
		rng := ranges[cell.FirstLeaf+leaf.cellIndex(st.idx[0], st.idx[1], st.idx[2])]
		for i := rng.Start; i < rng.End; i++ {
			tri := pairs[i].Value
			normal, t := geom.RayTriangle(ray, m.triangles[tri])
			if t > 0 && t < best {
				best = t
				bestNormal = normal
				bestTriangle = tri
			}
		}
		if bestTriangle != math.MaxUint32 {
			return accel.Contact{
				Pixel:    r.Pixel,
				Material: m.materials[bestTriangle],
				T:        best,
				Normal:   bestNormal,
			}, true
		}
		if !st.advance() {
			return accel.NoContact, false
		}
	}
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
