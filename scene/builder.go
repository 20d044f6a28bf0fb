package scene

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// Fraction of the scene extents added on each side of the scene box so
// that no primitive sits exactly on the outer boundary of the
// coordinate normalization range.
const sceneBoundsPadding = 1e-3

// Mesh is the host-side description of a submesh prior to flattening.
type Mesh struct {
	Vertices      []types.Vec3
	Indices       []uint32
	MaterialIndex uint32
}

// Builder assembles host-side scene elements and flattens them into the
// buffer layout the kernels consume.
type Builder struct {
	lights    []Light
	spheres   []sphereRecord
	materials []Material
	models    [][]Mesh
}

type sphereRecord struct {
	sphere   geom.Sphere
	material uint32
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Append a material and get back its index.
func (b *Builder) AddMaterial(mat Material) uint32 {
	b.materials = append(b.materials, mat)
	return uint32(len(b.materials) - 1)
}

// Append a light source.
func (b *Builder) AddLight(light Light) {
	b.lights = append(b.lights, light)
}

// Append a sphere primitive.
func (b *Builder) AddSphere(sphere geom.Sphere, materialIndex uint32) {
	b.spheres = append(b.spheres, sphereRecord{sphere: sphere, material: materialIndex})
}

// Append a model made of one or more submeshes.
func (b *Builder) AddModel(meshes ...Mesh) {
	b.models = append(b.models, meshes)
}

// Build flattens the accumulated elements and attaches a Scene to the
// resulting buffer.
func (b *Builder) Build() (*Scene, error) {
	totalSize := headerSize +
		len(b.lights)*lightStride +
		len(b.spheres)*sphereStride +
		len(b.materials)*materialStride

	var numTriangles uint32
	sceneBounds := geom.EmptyAABB()
	for m, meshes := range b.models {
		totalSize += modelHeaderSize
		for s, mesh := range meshes {
			if len(mesh.Indices)%3 != 0 {
				return nil, fmt.Errorf("scene: model %d submesh %d: index count %d is not a multiple of 3", m, s, len(mesh.Indices))
			}
			for _, index := range mesh.Indices {
				if index >= uint32(len(mesh.Vertices)) {
					return nil, fmt.Errorf("scene: model %d submesh %d: index %d out of range [0, %d)", m, s, index, len(mesh.Vertices))
				}
			}
			if int(mesh.MaterialIndex) >= len(b.materials) {
				return nil, fmt.Errorf("scene: model %d submesh %d: material index %d out of range [0, %d)", m, s, mesh.MaterialIndex, len(b.materials))
			}

			totalSize += meshHeaderSize + len(mesh.Vertices)*vertexStride + len(mesh.Indices)*indexStride
			numTriangles += uint32(len(mesh.Indices) / 3)
			for _, v := range mesh.Vertices {
				sceneBounds = sceneBounds.Include(v)
			}
		}
	}
	for _, rec := range b.spheres {
		r := rec.sphere.Radius
		sceneBounds = sceneBounds.
			Include(rec.sphere.Center.Sub(types.XYZ(r, r, r))).
			Include(rec.sphere.Center.Add(types.XYZ(r, r, r)))
	}
	if numTriangles == 0 {
		return nil, fmt.Errorf("scene: no triangles defined")
	}
	sceneBounds = padBounds(sceneBounds)

	w := &bufferWriter{buf: make([]byte, 0, totalSize)}
	w.u32(uint32(totalSize))
	w.u32(uint32(len(b.lights)))
	w.u32(uint32(len(b.spheres)))
	w.u32(uint32(len(b.materials)))
	w.u32(uint32(len(b.models)))
	w.u32(numTriangles)
	w.vec3(sceneBounds.Min)
	w.vec3(sceneBounds.Max)

	for _, light := range b.lights {
		w.vec3(light.Position)
		w.vec3(light.Color)
		w.f32(light.Intensity)
		w.u32(0)
	}
	for _, rec := range b.spheres {
		w.vec3(rec.sphere.Center)
		w.f32(rec.sphere.Radius)
		w.u32(rec.material)
		w.u32(0)
	}
	for _, mat := range b.materials {
		w.vec3(mat.Diffuse)
		w.vec3(mat.Emission)
		w.f32(mat.Reflectivity)
		w.f32(mat.RefractiveIndex)
	}

	for _, meshes := range b.models {
		modelSize := modelHeaderSize
		var modelTriangles uint32
		modelBounds := geom.EmptyAABB()
		for _, mesh := range meshes {
			modelSize += meshHeaderSize + len(mesh.Vertices)*vertexStride + len(mesh.Indices)*indexStride
			modelTriangles += uint32(len(mesh.Indices) / 3)
			for _, v := range mesh.Vertices {
				modelBounds = modelBounds.Include(v)
			}
		}

		w.u32(uint32(modelSize))
		w.u32(uint32(len(meshes)))
		w.u32(modelTriangles)
		w.u32(0)
		w.vec3(modelBounds.Min)
		w.vec3(modelBounds.Max)

		for _, mesh := range meshes {
			meshSize := meshHeaderSize + len(mesh.Vertices)*vertexStride + len(mesh.Indices)*indexStride
			w.u32(uint32(meshSize))
			w.u32(uint32(len(mesh.Indices) / 3))
			w.u32(uint32(len(mesh.Vertices)))
			w.u32(uint32(len(mesh.Indices)))
			w.u32(mesh.MaterialIndex)
			w.u32(0)
			for _, v := range mesh.Vertices {
				w.vec3(v)
				w.f32(0)
			}
			for _, index := range mesh.Indices {
				w.u32(index)
			}
		}
	}

	if len(w.buf) != totalSize {
		return nil, fmt.Errorf("scene: flattened %d bytes, layout computed %d", len(w.buf), totalSize)
	}
	return Attach(w.buf)
}

func padBounds(box geom.AABB) geom.AABB {
	ext := box.Extents()
	for axis := 0; axis < 3; axis++ {
		pad := ext[axis]*sceneBoundsPadding + geom.Epsilon
		box.Min[axis] -= pad
		box.Max[axis] += pad
	}
	return box
}

type bufferWriter struct {
	buf []byte
}

func (w *bufferWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *bufferWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *bufferWriter) vec3(v types.Vec3) {
	w.f32(v[0])
	w.f32(v[1])
	w.f32(v[2])
}
