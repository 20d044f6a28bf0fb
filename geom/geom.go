// Package geom provides the ray, box, triangle and sphere primitives
// shared by the acceleration structure kernels. The intersection
// routines favor flag multiplication over branches so the same code
// shape works well on wide data-parallel hardware.
package geom

import "github.com/kotturtech/OpenCLRayTracer/types"

// Epsilon below which a determinant or box extent is treated as zero.
const Epsilon float32 = 1.19209290e-07

// A ray with precomputed origin and direction.
type Ray struct {
	Origin    types.Vec3
	Direction types.Vec3
}

// A triangle defined by three vertices in counter-clockwise order.
type Triangle struct {
	V0 types.Vec3
	V1 types.Vec3
	V2 types.Vec3
}

// A sphere defined by center and radius.
type Sphere struct {
	Center types.Vec3
	Radius float32
}

func b2f(flag bool) float32 {
	if flag {
		return 1
	}
	return 0
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
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
