// Package scene defines the flattened scene buffer consumed by the
// acceleration structure kernels and the camera that drives primary ray
// generation. The buffer is a single little-endian byte region laid out
// as: scene header, light records, sphere records, material records and
// then a model block. Each model and submesh header declares its own
// byte size which is the authoritative stride for skipping to the next
// record, so readers never recompute layout from counts.
package scene

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// Record strides in bytes.
const (
	headerSize      = 48
	lightStride     = 32
	sphereStride    = 24
	materialStride  = 32
	modelHeaderSize = 40
	meshHeaderSize  = 24
	vertexStride    = 16
	indexStride     = 4
)

// Header field offsets.
const (
	offTotalSize    = 0
	offNumLights    = 4
	offNumSpheres   = 8
	offNumMaterials = 12
	offNumModels    = 16
	offNumTriangles = 20
	offSceneBounds  = 24
)

// A point light source.
type Light struct {
	Position  types.Vec3
	Color     types.Vec3
	Intensity float32
}

// Surface parameters referenced by triangles and spheres through their
// material index.
type Material struct {
	Diffuse         types.Vec3
	Emission        types.Vec3
	Reflectivity    float32
	RefractiveIndex float32
}

// TriangleRef addresses a triangle inside the model block.
type TriangleRef struct {
	Model    uint32
	Submesh  uint32
	Triangle uint32
}

// Scene wraps a flattened scene buffer with cached record offsets. The
// global-triangle-index resolution the kernels perform per leaf is a
// hot path, so the per-model and per-submesh triangle prefixes are
// computed once at attach time instead of being rediscovered by walking
// headers on every lookup.
type Scene struct {
	buf []byte

	modelOffsets []int
	meshOffsets  [][]int

	// Cumulative triangle counts; triPrefix[i] is the number of
	// triangles in models [0, i].
	triPrefix     []uint32
	meshTriPrefix [][]uint32
}

// Attach validates a scene buffer and builds the offset caches.
func Attach(buf []byte) (*Scene, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("scene: buffer of %d bytes cannot hold a scene header", len(buf))
	}

	sc := &Scene{buf: buf}
	if total := sc.readU32(offTotalSize); int(total) != len(buf) {
		return nil, fmt.Errorf("scene: header declares %d bytes, buffer holds %d", total, len(buf))
	}

	numModels := sc.readU32(offNumModels)
	offset := sc.modelBlockOffset()
	var triTotal uint32
	for m := uint32(0); m < numModels; m++ {
		if offset+modelHeaderSize > len(buf) {
			return nil, fmt.Errorf("scene: model %d header at offset %d exceeds buffer", m, offset)
		}
		sc.modelOffsets = append(sc.modelOffsets, offset)

		modelSize := sc.readU32(offset)
		numSubmeshes := sc.readU32(offset + 4)
		triTotal += sc.readU32(offset + 8)
		sc.triPrefix = append(sc.triPrefix, triTotal)

		var meshOffsets []int
		var meshPrefix []uint32
		var meshTris uint32
		meshOffset := offset + modelHeaderSize
		for s := uint32(0); s < numSubmeshes; s++ {
			if meshOffset+meshHeaderSize > len(buf) {
				return nil, fmt.Errorf("scene: model %d submesh %d header at offset %d exceeds buffer", m, s, meshOffset)
			}
			meshOffsets = append(meshOffsets, meshOffset)
			meshTris += sc.readU32(meshOffset + 4)
			meshPrefix = append(meshPrefix, meshTris)
			meshOffset += int(sc.readU32(meshOffset))
		}
		sc.meshOffsets = append(sc.meshOffsets, meshOffsets)
		sc.meshTriPrefix = append(sc.meshTriPrefix, meshPrefix)

		offset += int(modelSize)
	}

	if numTriangles := sc.readU32(offNumTriangles); triTotal != numTriangles {
		return nil, fmt.Errorf("scene: header declares %d triangles, model block holds %d", numTriangles, triTotal)
	}

	return sc, nil
}

// Bytes returns the raw flattened buffer.
func (sc *Scene) Bytes() []byte {
	return sc.buf
}

// Scene-wide record counts.
func (sc *Scene) NumLights() uint32    { return sc.readU32(offNumLights) }
func (sc *Scene) NumSpheres() uint32   { return sc.readU32(offNumSpheres) }
func (sc *Scene) NumMaterials() uint32 { return sc.readU32(offNumMaterials) }
func (sc *Scene) NumModels() uint32    { return sc.readU32(offNumModels) }
func (sc *Scene) NumTriangles() uint32 { return sc.readU32(offNumTriangles) }

// Bounds returns the scene bounding box. The builder pads it so no
// primitive sits exactly on the boundary.
func (sc *Scene) Bounds() geom.AABB {
	return geom.AABB{
		Min: sc.readVec3(offSceneBounds),
		Max: sc.readVec3(offSceneBounds + 12),
	}
}

// Light returns the light record at the given index.
func (sc *Scene) Light(index uint32) Light {
	off := headerSize + int(index)*lightStride
	return Light{
		Position:  sc.readVec3(off),
		Color:     sc.readVec3(off + 12),
		Intensity: sc.readF32(off + 24),
	}
}

// SphereAt returns the sphere record and its material index.
func (sc *Scene) SphereAt(index uint32) (geom.Sphere, uint32) {
	off := headerSize + int(sc.NumLights())*lightStride + int(index)*sphereStride
	return geom.Sphere{
		Center: sc.readVec3(off),
		Radius: sc.readF32(off + 12),
	}, sc.readU32(off + 16)
}

// MaterialAt returns the material record at the given index.
func (sc *Scene) MaterialAt(index uint32) Material {
	off := headerSize + int(sc.NumLights())*lightStride + int(sc.NumSpheres())*sphereStride + int(index)*materialStride
	return Material{
		Diffuse:         sc.readVec3(off),
		Emission:        sc.readVec3(off + 12),
		Reflectivity:    sc.readF32(off + 24),
		RefractiveIndex: sc.readF32(off + 28),
	}
}

// ModelBounds returns the bounding box of a model.
func (sc *Scene) ModelBounds(model uint32) geom.AABB {
	off := sc.modelOffsets[model] + 16
	return geom.AABB{
		Min: sc.readVec3(off),
		Max: sc.readVec3(off + 12),
	}
}

// ResolveTriangle maps a global triangle index to the (model, submesh,
// local triangle) triple addressing it.
func (sc *Scene) ResolveTriangle(global uint32) (TriangleRef, error) {
	if global >= sc.NumTriangles() {
		return TriangleRef{}, fmt.Errorf("scene: triangle index %d out of range [0, %d)", global, sc.NumTriangles())
	}

	model := sort.Search(len(sc.triPrefix), func(i int) bool {
		return sc.triPrefix[i] > global
	})
	local := global
	if model > 0 {
		local -= sc.triPrefix[model-1]
	}

	prefix := sc.meshTriPrefix[model]
	submesh := sort.Search(len(prefix), func(i int) bool {
		return prefix[i] > local
	})
	if submesh > 0 {
		local -= prefix[submesh-1]
	}

	return TriangleRef{
		Model:    uint32(model),
		Submesh:  uint32(submesh),
		Triangle: local,
	}, nil
}

// FetchTriangle reads the three vertices a triangle ref points at.
func (sc *Scene) FetchTriangle(ref TriangleRef) geom.Triangle {
	meshOff := sc.meshOffsets[ref.Model][ref.Submesh]
	numVertices := sc.readU32(meshOff + 8)

	vertexBase := meshOff + meshHeaderSize
	indexBase := vertexBase + int(numVertices)*vertexStride

	indexOff := indexBase + int(ref.Triangle)*3*indexStride
	i0 := sc.readU32(indexOff)
	i1 := sc.readU32(indexOff + indexStride)
	i2 := sc.readU32(indexOff + 2*indexStride)

	return geom.Triangle{
		V0: sc.readVec3(vertexBase + int(i0)*vertexStride),
		V1: sc.readVec3(vertexBase + int(i1)*vertexStride),
		V2: sc.readVec3(vertexBase + int(i2)*vertexStride),
	}
}

// MaterialIndexOf returns the material index of the submesh a triangle
// ref points into.
func (sc *Scene) MaterialIndexOf(ref TriangleRef) uint32 {
	return sc.readU32(sc.meshOffsets[ref.Model][ref.Submesh] + 16)
}

func (sc *Scene) modelBlockOffset() int {
	return headerSize +
		int(sc.readU32(offNumLights))*lightStride +
		int(sc.readU32(offNumSpheres))*sphereStride +
		int(sc.readU32(offNumMaterials))*materialStride
}

func (sc *Scene) readU32(off int) uint32 {
	return binary.LittleEndian.Uint32(sc.buf[off:])
}

func (sc *Scene) readF32(off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(sc.buf[off:]))
}

func (sc *Scene) readVec3(off int) types.Vec3 {
	return types.Vec3{
		sc.readF32(off),
		sc.readF32(off + 4),
		sc.readF32(off + 8),
	}
}
