package geom

import "github.com/kotturtech/OpenCLRayTracer/types"

// RayTriangle intersects a ray with a triangle (Moeller-Trumbore).
// Returns the normalized geometric normal and the ray parameter t at
// the intersection; t is 0 when the ray misses or runs parallel to the
// triangle plane. The barycentric rejection tests accumulate into a
// flag that multiplies t instead of branching.
func RayTriangle(r Ray, tri Triangle) (types.Vec3, float32) {
	edge1 := tri.V1.Sub(tri.V0)
	edge2 := tri.V2.Sub(tri.V0)
	normal := edge1.Cross(edge2).Normalize()

	pvec := r.Direction.Cross(edge2)
	det := edge1.Dot(pvec)
	if absf(det) < Epsilon {
		return normal, 0
	}
	invDet := 1.0 / det

	tvec := r.Origin.Sub(tri.V0)
	u := tvec.Dot(pvec) * invDet
	flag := u >= 0 && u <= 1

	qvec := tvec.Cross(edge1)
	v := r.Direction.Dot(qvec) * invDet
	flag = flag && v >= 0 && u+v <= 1

	t := edge2.Dot(qvec) * invDet * b2f(flag)
	return normal, t
}

// TriangleAABB computes the bounding box of a triangle. Axes along
// which the triangle is flat are padded by epsilon on both sides so the
// box never degenerates to zero thickness.
func TriangleAABB(tri Triangle) AABB {
	box := AABB{
		Min: types.MinVec3(tri.V0, types.MinVec3(tri.V1, tri.V2)),
		Max: types.MaxVec3(tri.V0, types.MaxVec3(tri.V1, tri.V2)),
	}

	for axis := 0; axis < 3; axis++ {
		if box.Max[axis]-box.Min[axis] < Epsilon {
			box.Min[axis] -= Epsilon
			box.Max[axis] += Epsilon
		}
	}
	return box
}

// Centroid returns the triangle barycenter.
func (tri Triangle) Centroid() types.Vec3 {
	return tri.V0.Add(tri.V1).Add(tri.V2).Mul(1.0 / 3.0)
}
