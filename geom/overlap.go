package geom

import "github.com/kotturtech/OpenCLRayTracer/types"

// BoxTriangleOverlap performs an exact separating-axis test between a
// box and a triangle (Akenine-Moller). Thirteen axes are tried: the
// nine edge cross products, the three box axes and the triangle plane
// normal. The conservative box-vs-box variant used during pair counting
// can report false positives; this test is what the final pair writing
// kernels rely on.
func BoxTriangleOverlap(box AABB, tri Triangle) bool {
	c := box.Centroid()
	h := box.Extents().Mul(0.5)

	// Triangle in box-centered coordinates.
	v0 := tri.V0.Sub(c)
	v1 := tri.V1.Sub(c)
	v2 := tri.V2.Sub(c)

	e0 := v1.Sub(v0)
	e1 := v2.Sub(v1)
	e2 := v0.Sub(v2)

	// Edge cross-product axes.
	fex, fey, fez := absf(e0[0]), absf(e0[1]), absf(e0[2])
	if !axisTest(e0[2], -e0[1], v0[1], v0[2], v2[1], v2[2], fez*h[1]+fey*h[2]) {
		return false
	}
	if !axisTest(-e0[2], e0[0], v0[0], v0[2], v2[0], v2[2], fez*h[0]+fex*h[2]) {
		return false
	}
	if !axisTest(e0[1], -e0[0], v1[0], v1[1], v2[0], v2[1], fey*h[0]+fex*h[1]) {
		return false
	}

	fex, fey, fez = absf(e1[0]), absf(e1[1]), absf(e1[2])
	if !axisTest(e1[2], -e1[1], v0[1], v0[2], v2[1], v2[2], fez*h[1]+fey*h[2]) {
		return false
	}
	if !axisTest(-e1[2], e1[0], v0[0], v0[2], v2[0], v2[2], fez*h[0]+fex*h[2]) {
		return false
	}
	if !axisTest(e1[1], -e1[0], v0[0], v0[1], v1[0], v1[1], fey*h[0]+fex*h[1]) {
		return false
	}

	fex, fey, fez = absf(e2[0]), absf(e2[1]), absf(e2[2])
	if !axisTest(e2[2], -e2[1], v0[1], v0[2], v1[1], v1[2], fez*h[1]+fey*h[2]) {
		return false
	}
	if !axisTest(-e2[2], e2[0], v0[0], v0[2], v1[0], v1[2], fez*h[0]+fex*h[2]) {
		return false
	}
	if !axisTest(e2[1], -e2[0], v1[0], v1[1], v2[0], v2[1], fey*h[0]+fex*h[1]) {
		return false
	}

	// Box axes: triangle extent vs half size per axis.
	for axis := 0; axis < 3; axis++ {
		lo := minf(v0[axis], minf(v1[axis], v2[axis]))
		hi := maxf(v0[axis], maxf(v1[axis], v2[axis]))
		if lo > h[axis] || hi < -h[axis] {
			return false
		}
	}

	// Triangle plane vs box.
	normal := e0.Cross(e1)
	return planeBoxOverlap(normal, v0, h)
}

// Project two representative vertices on the axis (a, b) and compare the
// interval against the box projection radius.
func axisTest(a, b, pa0, pa1, pb0, pb1, rad float32) bool {
	p0 := a*pa0 + b*pa1
	p1 := a*pb0 + b*pb1
	lo, hi := p0, p1
	if lo > hi {
		lo, hi = hi, lo
	}
	return !(lo > rad || hi < -rad)
}

func planeBoxOverlap(normal, vert, maxbox types.Vec3) bool {
	var vmin, vmax types.Vec3
	for q := 0; q < 3; q++ {
		if normal[q] > 0 {
			vmin[q] = -maxbox[q] - vert[q]
			vmax[q] = maxbox[q] - vert[q]
		} else {
			vmin[q] = maxbox[q] - vert[q]
			vmax[q] = -maxbox[q] - vert[q]
		}
	}
	if normal.Dot(vmin) > 0 {
		return false
	}
	return normal.Dot(vmax) >= 0
}
