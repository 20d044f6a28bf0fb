package bvh

import (
	"math"
	"math/rand"
	"testing"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/parallel"
	"github.com/kotturtech/OpenCLRayTracer/scene"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

func TestConstructHierarchyInvariants(t *testing.T) {
	m := constructTestManager(t, randomScene(t, 200, 11))
	defer m.Close()

	nodes := m.Nodes()
	numLeaves := m.NumLeaves()
	if len(nodes) != 2*numLeaves-1 {
		t.Fatalf("expected %d arena nodes; got %d", 2*numLeaves-1, len(nodes))
	}

	root := &nodes[numLeaves]
	if root.Parent != math.MaxUint32 {
		t.Fatalf("expected root parent to be unset; got %d", root.Parent)
	}

	// Every parent box must contain both children; every leaf must walk
	// to the root without cycling.
	leafSeen := make([]bool, numLeaves)
	for i := range nodes {
		node := &nodes[i]
		if node.Kind == InnerNode {
			if !node.Box.Contains(nodes[node.Left].Box) || !node.Box.Contains(nodes[node.Right].Box) {
				t.Fatalf("node %d box does not contain its children", i)
			}
			if nodes[node.Left].Parent != uint32(i) || nodes[node.Right].Parent != uint32(i) {
				t.Fatalf("node %d children disagree about their parent", i)
			}
			continue
		}

		if int(node.Triangle) >= numLeaves {
			t.Fatalf("leaf %d references triangle %d out of range", i, node.Triangle)
		}
		if i < numLeaves {
			leafSeen[i] = true
		}

		if !reachesRoot(nodes, uint32(i), numLeaves) {
			t.Fatalf("leaf %d does not reach the root within %d steps", i, numLeaves)
		}
	}
	for i, seen := range leafSeen {
		if !seen {
			t.Fatalf("arena slot %d does not hold a leaf", i)
		}
	}
}

func TestRootWalkDetectsBrokenParentLink(t *testing.T) {
	m := constructTestManager(t, randomScene(t, 50, 17))
	defer m.Close()

	nodes := m.Nodes()
	numLeaves := m.NumLeaves()

	// Redirect one leaf's parent link at the leaf itself, forming a
	// one-node cycle that can never reach the root.
	nodes[0].Parent = 0
	if reachesRoot(nodes, 0, numLeaves) {
		t.Fatal("expected the root walk to reject a self-referential parent link")
	}

	// A two-node cycle between a leaf and its former parent.
	parent := nodes[1].Parent
	nodes[parent].Parent = 1
	if reachesRoot(nodes, 1, numLeaves) {
		t.Fatal("expected the root walk to reject a parent cycle")
	}
}

// reachesRoot follows parent links from start and reports whether the
// unset root parent is found within maxSteps hops.
func reachesRoot(nodes []Node, start uint32, maxSteps int) bool {
	steps := 0
	for at := start; nodes[at].Parent != math.MaxUint32; at = nodes[at].Parent {
		if steps++; steps > maxSteps {
			return false
		}
	}
	return true
}

func TestTraversalMatchesBruteForce(t *testing.T) {
	sc := randomScene(t, 150, 23)
	m := constructTestManager(t, sc)
	defer m.Close()

	rng := rand.New(rand.NewSource(99))
	rays := make([]accel.Ray, 256)
	for i := range rays {
		rays[i] = accel.Ray{
			Pixel:     uint32(i),
			Origin:    types.XYZ(rng.Float32()*20-10, rng.Float32()*20-10, -15),
			Direction: types.XYZ(rng.Float32()*0.4-0.2, rng.Float32()*0.4-0.2, 1),
		}
	}

	contacts := compute.NewBuffer[accel.Contact](m.device, "contacts")
	if _, err := m.GenerateRayContacts(rays, contacts, uint32(len(rays))); err != nil {
		t.Fatal(err)
	}

	var hits int
	for i, got := range contacts.Data() {
		exp := bruteForceIntersect(sc, rays[i])
		if got.Hit() != exp.Hit() {
			t.Fatalf("ray %d: expected hit=%t; got hit=%t", i, exp.Hit(), got.Hit())
		}
		if !exp.Hit() {
			continue
		}
		hits++
		if absf(got.T-exp.T) > 1e-3 {
			t.Fatalf("ray %d: expected t %f; got %f", i, exp.T, got.T)
		}
		if got.Material != exp.Material {
			t.Fatalf("ray %d: expected material %d; got %d", i, exp.Material, got.Material)
		}
		if got.Pixel != uint32(i) {
			t.Fatalf("ray %d: expected pixel %d; got %d", i, i, got.Pixel)
		}
	}
	if hits == 0 {
		t.Fatal("expected at least one ray to hit the scene")
	}
}

func TestSingleTriangleScene(t *testing.T) {
	b := scene.NewBuilder()
	mat := b.AddMaterial(scene.Material{})
	b.AddModel(scene.Mesh{
		Vertices:      []types.Vec3{{-1, -1, 0}, {1, -1, 0}, {0, 1, 0}},
		Indices:       []uint32{0, 1, 2},
		MaterialIndex: mat,
	})
	sc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	m := constructTestManager(t, sc)
	defer m.Close()

	contacts := compute.NewBuffer[accel.Contact](m.device, "contacts")
	rays := []accel.Ray{
		{Pixel: 0, Origin: types.XYZ(0, 0, -5), Direction: types.XYZ(0, 0, 1)},
		{Pixel: 1, Origin: types.XYZ(5, 5, -5), Direction: types.XYZ(0, 0, 1)},
	}
	if _, err = m.GenerateRayContacts(rays, contacts, 2); err != nil {
		t.Fatal(err)
	}

	out := contacts.Data()
	if !out[0].Hit() || absf(out[0].T-5) > 1e-4 {
		t.Fatalf("expected hit at t 5; got %+v", out[0])
	}
	if out[1].Hit() {
		t.Fatalf("expected miss; got %+v", out[1])
	}
}

func TestGenerateContactsFromCamera(t *testing.T) {
	m := constructTestManager(t, randomScene(t, 60, 5))
	defer m.Close()

	cam := scene.NewCamera(60, 32, 32)
	cam.Position = types.XYZ(0, 0, -25)
	cam.LookAt = types.XYZ(0, 0, 0)
	cam.Update()

	if _, err := m.GenerateContacts(cam); err != nil {
		t.Fatal(err)
	}

	contacts := m.PrimaryContacts()
	if contacts.Size() != 32*32 {
		t.Fatalf("expected %d contacts; got %d", 32*32, contacts.Size())
	}
	var hits int
	for _, c := range contacts.Data() {
		if c.Hit() {
			hits++
		}
	}
	if hits == 0 {
		t.Fatal("expected camera rays to hit the scene")
	}
}

func TestLifecyclePreconditions(t *testing.T) {
	dev := testDevice(t)
	defer dev.Close()
	m := NewManager(dev, testSceneOneTriangle(t))

	if err := m.InitializeFrame(); err != accel.ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized; got %v", err)
	}
	if _, err := m.Construct(); err != accel.ErrNoFrame {
		t.Fatalf("expected ErrNoFrame; got %v", err)
	}
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GenerateContacts(scene.NewCamera(60, 8, 8)); err != accel.ErrNotConstructed {
		t.Fatalf("expected ErrNotConstructed; got %v", err)
	}

	if err := NewManager(dev, nil).Initialize(); err != accel.ErrNilScene {
		t.Fatalf("expected ErrNilScene; got %v", err)
	}
}

func TestExpandBits(t *testing.T) {
	specs := []struct {
		in  uint32
		exp uint32
	}{
		{in: 0, exp: 0},
		{in: 1, exp: 1},
		{in: 0x3FF, exp: 0x09249249},
	}
	for _, spec := range specs {
		if got := expandBits(spec.in); got != spec.exp {
			t.Fatalf("expandBits(%#x): expected %#x; got %#x", spec.in, spec.exp, got)
		}
	}
}

func TestMorton3DOrdering(t *testing.T) {
	// The code interleaves x:y:z with x owning the highest bit, so the
	// x coordinate dominates ordering between distant points.
	if Morton3D(0.9, 0, 0) <= Morton3D(0.1, 0.9, 0.9) {
		t.Fatal("expected x to dominate the morton ordering")
	}
	// Out-of-cube coordinates clamp to the boundary codes.
	if Morton3D(-1, -1, -1) != 0 {
		t.Fatalf("expected clamped code 0; got %#x", Morton3D(-1, -1, -1))
	}
	if Morton3D(2, 2, 2) != Morton3D(1, 1, 1) {
		t.Fatal("expected coordinates above the cube to clamp")
	}
}

func TestDetermineRangeAndFindSplit(t *testing.T) {
	pairs := mortonPairs(0b000, 0b001, 0b100, 0b101)

	first, last := determineRange(pairs, len(pairs), 0)
	if first != 0 || last != 3 {
		t.Fatalf("expected root range [0, 3]; got [%d, %d]", first, last)
	}
	if split := findSplit(pairs, 0, 3); split != 1 {
		t.Fatalf("expected split after index 1; got %d", split)
	}

	// Equal-code run: the range extends over the run.
	pairs = mortonPairs(1, 5, 5, 5, 9, 12, 13, 14)
	first, last = determineRange(pairs, len(pairs), 2)
	if first != 2 || last != 3 {
		t.Fatalf("expected equal-run range [2, 3]; got [%d, %d]", first, last)
	}

	// A range sharing one code splits at its head.
	if split := findSplit(pairs, 1, 3); split != 1 {
		t.Fatalf("expected head split for uniform range; got %d", split)
	}
}

// mortonPairs builds a sorted morton key run with the leaf index as value.
func mortonPairs(keys ...uint32) []parallel.Pair {
	pairs := make([]parallel.Pair, len(keys))
	for i, key := range keys {
		pairs[i] = parallel.Pair{Key: key, Value: uint32(i)}
	}
	return pairs
}

func testDevice(t *testing.T) *compute.Device {
	dev := compute.NewDevice("test device", 4, 64, 32<<10)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	return dev
}

func testSceneOneTriangle(t *testing.T) *scene.Scene {
	b := scene.NewBuilder()
	mat := b.AddMaterial(scene.Material{})
	b.AddModel(scene.Mesh{
		Vertices:      []types.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:       []uint32{0, 1, 2},
		MaterialIndex: mat,
	})
	sc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

// randomScene builds a triangle soup of small random triangles spread
// through a 20-unit cube, split across two models and two materials.
func randomScene(t *testing.T, numTriangles int, seed int64) *scene.Scene {
	rng := rand.New(rand.NewSource(seed))
	b := scene.NewBuilder()
	mat0 := b.AddMaterial(scene.Material{Diffuse: types.XYZ(1, 0, 0)})
	mat1 := b.AddMaterial(scene.Material{Diffuse: types.XYZ(0, 1, 0)})

	makeMesh := func(count int, mat uint32) scene.Mesh {
		mesh := scene.Mesh{MaterialIndex: mat}
		for i := 0; i < count; i++ {
			base := types.XYZ(rng.Float32()*20-10, rng.Float32()*20-10, rng.Float32()*20-10)
			mesh.Vertices = append(mesh.Vertices,
				base,
				base.Add(types.XYZ(rng.Float32()*2, rng.Float32()*2, rng.Float32())),
				base.Add(types.XYZ(rng.Float32(), rng.Float32()*2, rng.Float32()*2)),
			)
			n := uint32(len(mesh.Vertices))
			mesh.Indices = append(mesh.Indices, n-3, n-2, n-1)
		}
		return mesh
	}

	half := numTriangles / 2
	b.AddModel(makeMesh(half, mat0))
	b.AddModel(makeMesh(numTriangles-half, mat1))

	sc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func constructTestManager(t *testing.T, sc *scene.Scene) *Manager {
	m := NewManager(testDevice(t), sc)
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.InitializeFrame(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Construct(); err != nil {
		t.Fatal(err)
	}
	return m
}

func bruteForceIntersect(sc *scene.Scene, r accel.Ray) accel.Contact {
	ray := geom.Ray{Origin: r.Origin, Direction: r.Direction}
	best := accel.NoContact
	for i := uint32(0); i < sc.NumTriangles(); i++ {
		ref, err := sc.ResolveTriangle(i)
		if err != nil {
			continue
		}
		normal, tval := geom.RayTriangle(ray, sc.FetchTriangle(ref))
		if tval > 0 && (!best.Hit() || tval < best.T) {
			best = accel.Contact{
				Pixel:    r.Pixel,
				Material: sc.MaterialIndexOf(ref),
				T:        tval,
				Normal:   normal,
			}
		}
	}
	return best
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
