// Package bvh implements a linear bounding volume hierarchy: leaves
// are ordered by the Morton code of their centroid, internal nodes are
// derived from the sorted code sequence as a binary radix tree (Karras
// 2012) and bounding boxes are propagated bottom-up. Every construction
// stage is a data-parallel kernel so build cost scales with the device
// worker count.
package bvh

// Spread the lower 10 bits of v so that two zero bits separate each
// payload bit.
func expandBits(v uint32) uint32 {
	v = (v * 0x00010001) & 0xFF0000FF
	v = (v * 0x00000101) & 0x0F00F00F
	v = (v * 0x00000011) & 0xC30C30C3
	v = (v * 0x00000005) & 0x49249249
	return v
}

// Morton3D maps a point in the unit cube to its 30-bit Morton code.
// Coordinates are quantized to a 1024^3 lattice and clamped, so points
// slightly outside the cube still produce boundary codes.
func Morton3D(x, y, z float32) uint32 {
	xx := expandBits(quantize(x))
	yy := expandBits(quantize(y))
	zz := expandBits(quantize(z))
	return xx*4 + yy*2 + zz
}

func quantize(v float32) uint32 {
	v = v * 1024.0
	if v < 0 {
		v = 0
	}
	if v > 1023.0 {
		v = 1023.0
	}
	return uint32(v)
}
