package geom

import (
	"math"

	"github.com/kotturtech/OpenCLRayTracer/types"
)

// RaySphere intersects a ray with a sphere. Returns the surface normal
// at the hit point and the ray parameter t of the earliest intersection
// in front of the origin; t is 0 on a miss. A ray starting inside the
// sphere hits the far side.
func RaySphere(r Ray, s Sphere) (types.Vec3, float32) {
	l := r.Origin.Sub(s.Center)
	a := r.Direction.Dot(r.Direction)
	b := 2.0 * r.Direction.Dot(l)
	c := l.Dot(l) - s.Radius*s.Radius

	disc := b*b - 4.0*a*c
	if disc < 0 {
		return types.Vec3{}, 0
	}

	root := float32(math.Sqrt(float64(disc)))
	t := (-b - root) / (2.0 * a)
	if t < 0 {
		t = (-b + root) / (2.0 * a)
	}
	if t <= 0 {
		return types.Vec3{}, 0
	}

	point := r.Origin.Add(r.Direction.Mul(t))
	return point.Sub(s.Center).Normalize(), t
}
