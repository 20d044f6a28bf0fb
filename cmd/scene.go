package cmd

import (
	"math/rand"

	"github.com/kotturtech/OpenCLRayTracer/scene"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

// generateScene builds a procedural test scene: a ground plane under a
// soup of small random triangles spread through a 20-unit cube, split
// across a handful of materials, plus a single overhead light.
func generateScene(numTriangles int, seed int64) (*scene.Scene, error) {
	rng := rand.New(rand.NewSource(seed))
	b := scene.NewBuilder()

	mats := []uint32{
		b.AddMaterial(scene.Material{Diffuse: types.XYZ(0.9, 0.2, 0.2)}),
		b.AddMaterial(scene.Material{Diffuse: types.XYZ(0.2, 0.9, 0.2)}),
		b.AddMaterial(scene.Material{Diffuse: types.XYZ(0.2, 0.2, 0.9)}),
		b.AddMaterial(scene.Material{Diffuse: types.XYZ(0.8, 0.8, 0.8)}),
	}

	b.AddLight(scene.Light{
		Position:  types.XYZ(0, 30, -5),
		Color:     types.XYZ(1, 1, 1),
		Intensity: 1,
	})

	// Ground plane.
	b.AddModel(scene.Mesh{
		Vertices: []types.Vec3{
			{-20, -10, -20}, {20, -10, -20}, {20, -10, 20}, {-20, -10, 20},
		},
		Indices:       []uint32{0, 1, 2, 0, 2, 3},
		MaterialIndex: mats[3],
	})

	// Triangle soup, one model per material.
	perModel := numTriangles / (len(mats) - 1)
	for model := 0; model < len(mats)-1; model++ {
		count := perModel
		if model == len(mats)-2 {
			count = numTriangles - perModel*(len(mats)-2)
		}
		mesh := scene.Mesh{MaterialIndex: mats[model]}
		for i := 0; i < count; i++ {
			base := types.XYZ(rng.Float32()*20-10, rng.Float32()*18-9, rng.Float32()*20-10)
			mesh.Vertices = append(mesh.Vertices,
				base,
				base.Add(types.XYZ(rng.Float32(), rng.Float32(), rng.Float32()*0.5)),
				base.Add(types.XYZ(rng.Float32()*0.5, rng.Float32(), rng.Float32())),
			)
			n := uint32(len(mesh.Vertices))
			mesh.Indices = append(mesh.Indices, n-3, n-2, n-1)
		}
		b.AddModel(mesh)
	}

	return b.Build()
}
