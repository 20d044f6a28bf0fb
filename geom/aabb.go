package geom

import (
	"math"

	"github.com/kotturtech/OpenCLRayTracer/types"
)

// An axis-aligned bounding box.
type AABB struct {
	Min types.Vec3
	Max types.Vec3
}

// Create a box that contains nothing; growing it with Union yields the
// bounds of whatever was merged in.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: types.Vec3{inf, inf, inf},
		Max: types.Vec3{-inf, -inf, -inf},
	}
}

// Merge another box into this one.
func (box AABB) Union(other AABB) AABB {
	return AABB{
		Min: types.MinVec3(box.Min, other.Min),
		Max: types.MaxVec3(box.Max, other.Max),
	}
}

// Grow the box to include a point.
func (box AABB) Include(p types.Vec3) AABB {
	return AABB{
		Min: types.MinVec3(box.Min, p),
		Max: types.MaxVec3(box.Max, p),
	}
}

// Check whether two boxes overlap. Touching faces count as overlap;
// the construction kernels rely on that for primitives sitting exactly
// on a cell boundary.
func (box AABB) Overlaps(other AABB) bool {
	return box.Min[0] <= other.Max[0] && box.Max[0] >= other.Min[0] &&
		box.Min[1] <= other.Max[1] && box.Max[1] >= other.Min[1] &&
		box.Min[2] <= other.Max[2] && box.Max[2] >= other.Min[2]
}

// Check whether the box fully contains another box.
func (box AABB) Contains(other AABB) bool {
	return box.Min[0] <= other.Min[0] && box.Max[0] >= other.Max[0] &&
		box.Min[1] <= other.Min[1] && box.Max[1] >= other.Max[1] &&
		box.Min[2] <= other.Min[2] && box.Max[2] >= other.Max[2]
}

// Check whether a point lies inside the box (boundary included).
func (box AABB) ContainsPoint(p types.Vec3) bool {
	return p[0] >= box.Min[0] && p[0] <= box.Max[0] &&
		p[1] >= box.Min[1] && p[1] <= box.Max[1] &&
		p[2] >= box.Min[2] && p[2] <= box.Max[2]
}

// Get the box center point.
func (box AABB) Centroid() types.Vec3 {
	return box.Min.Add(box.Max).Mul(0.5)
}

// Get the box extents along each axis.
func (box AABB) Extents() types.Vec3 {
	return box.Max.Sub(box.Min)
}

// Get the box volume.
func (box AABB) Volume() float32 {
	ext := box.Extents()
	return ext[0] * ext[1] * ext[2]
}

// RayAABB intersects a ray with the box using the slab method. The
// per-axis slab selection indexes the bounds array by the sign of the
// inverse direction and folds the miss conditions into a validity flag.
// Returns the entry parameter tmin, or 0 when the ray misses. A
// negative return means the box is behind the origin or the origin is
// inside; callers that care combine the result with ContainsPoint.
func RayAABB(r Ray, box AABB) float32 {
	tmin, _, flag := raySlabs(r, box)
	if flag == 0 {
		return 0
	}
	return tmin
}

// RayAABBRange returns the [tmin, tmax] parameter interval of the ray
// inside the box, both zero on a miss.
func RayAABBRange(r Ray, box AABB) (float32, float32) {
	tmin, tmax, flag := raySlabs(r, box)
	// An axis-parallel ray outside its slab drives tmin/tmax to ±Inf,
	// so the miss result must be built explicitly rather than by
	// multiplying the flag in.
	if flag == 0 {
		return 0, 0
	}
	return tmin, tmax
}

func raySlabs(r Ray, box AABB) (tmin, tmax, flag float32) {
	bounds := [2]types.Vec3{box.Min, box.Max}
	flag = 1

	invDirX := 1.0 / r.Direction[0]
	invDirY := 1.0 / r.Direction[1]
	invDirZ := 1.0 / r.Direction[2]

	var signX, signY, signZ int
	if invDirX < 0 {
		signX = 1
	}
	if invDirY < 0 {
		signY = 1
	}
	if invDirZ < 0 {
		signZ = 1
	}

	tmin = (bounds[signX][0] - r.Origin[0]) * invDirX
	tmax = (bounds[1-signX][0] - r.Origin[0]) * invDirX
	tymin := (bounds[signY][1] - r.Origin[1]) * invDirY
	tymax := (bounds[1-signY][1] - r.Origin[1]) * invDirY

	flag *= b2f(!(tmin > tymax || tymin > tmax))
	tmin = maxf(tymin, tmin)
	tmax = minf(tymax, tmax)

	tzmin := (bounds[signZ][2] - r.Origin[2]) * invDirZ
	tzmax := (bounds[1-signZ][2] - r.Origin[2]) * invDirZ

	flag *= b2f(!(tmin > tzmax || tzmin > tmax))
	tmin = maxf(tzmin, tmin)
	tmax = minf(tzmax, tmax)

	return tmin, tmax, flag
}
