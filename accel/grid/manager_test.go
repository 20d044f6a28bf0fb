package grid

import (
	"math/rand"
	"testing"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/parallel"
	"github.com/kotturtech/OpenCLRayTracer/scene"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

type cellPair struct {
	cell uint32
	tri  uint32
}

func TestConstructPairInvariants(t *testing.T) {
	m := constructTestManager(t, randomScene(t, 180, 7))
	defer m.Close()

	// Recompute the expected (cell, triangle) pair set host side.
	expected := make(map[cellPair]bool)
	for tri, triangle := range m.triangles {
		lo, hi := m.grid.cellSpan(geom.TriangleAABB(triangle))
		for iz := lo[2]; iz <= hi[2]; iz++ {
			for iy := lo[1]; iy <= hi[1]; iy++ {
				for ix := lo[0]; ix <= hi[0]; ix++ {
					expected[cellPair{m.grid.cellIndex(ix, iy, iz), uint32(tri)}] = true
				}
			}
		}
	}

	pairs := m.pairs.Data()
	ranges := m.cellRanges.Data()
	var realPairs int
	for i, p := range pairs {
		if p.Key == parallel.SentinelKey {
			continue
		}
		realPairs++
		if !expected[cellPair{p.Key, p.Value}] {
			t.Fatalf("pair %d (cell %d, triangle %d) was not expected", i, p.Key, p.Value)
		}
		// Every real pair must be covered by exactly its cell's range.
		r := ranges[p.Key]
		if uint32(i) < r.Start || uint32(i) >= r.End {
			t.Fatalf("pair %d for cell %d falls outside range [%d, %d)", i, p.Key, r.Start, r.End)
		}
	}
	if realPairs != len(expected) {
		t.Fatalf("expected %d pairs; got %d", len(expected), realPairs)
	}

	var covered uint32
	for cell, r := range ranges {
		for i := r.Start; i < r.End; i++ {
			if pairs[i].Key != uint32(cell) {
				t.Fatalf("range of cell %d covers pair %d of cell %d", cell, i, pairs[i].Key)
			}
		}
		covered += r.End - r.Start
	}
	if int(covered) != realPairs {
		t.Fatalf("expected ranges to cover %d pairs; got %d", realPairs, covered)
	}
}

func TestLeafPairInvariants(t *testing.T) {
	m := constructTestManager(t, randomScene(t, 180, 7))
	defer m.Close()

	topCells := m.topLevelCells.Data()

	// The leaf range array must hold exactly the leaf cells the
	// occupied top-level cells declare, in FirstLeaf order.
	var leafCells uint32
	for i, cell := range topCells {
		if cell.ResX == 0 {
			continue
		}
		if cell.FirstLeaf != leafCells {
			t.Fatalf("cell %d: expected first leaf %d; got %d", i, leafCells, cell.FirstLeaf)
		}
		leafCells += cell.ResX * cell.ResY * cell.ResZ
	}
	if int(leafCells) != m.leafRanges.Size() {
		t.Fatalf("expected %d leaf ranges; got %d", leafCells, m.leafRanges.Size())
	}

	// Expected leaf pairs: for every top-level pair, the triangle must
	// land in exactly the leaf cells it passes the exact overlap test
	// for.
	expected := make(map[cellPair]bool)
	for _, p := range m.pairs.Data() {
		if p.Key == parallel.SentinelKey {
			continue
		}
		cell := topCells[p.Key]
		ix, iy, iz := m.grid.cellCoords(p.Key)
		leaf := cellGrid(cell, m.grid.cellBox(ix, iy, iz))
		tri := m.triangles[p.Value]
		lo, hi := leaf.cellSpan(geom.TriangleAABB(tri))
		for lz := lo[2]; lz <= hi[2]; lz++ {
			for ly := lo[1]; ly <= hi[1]; ly++ {
				for lx := lo[0]; lx <= hi[0]; lx++ {
					if geom.BoxTriangleOverlap(leaf.cellBox(lx, ly, lz), tri) {
						expected[cellPair{cell.FirstLeaf + leaf.cellIndex(lx, ly, lz), p.Value}] = true
					}
				}
			}
		}
	}

	leafPairs := m.leafPairs.Data()
	ranges := m.leafRanges.Data()
	var realPairs int
	for i, p := range leafPairs {
		if p.Key == parallel.SentinelKey {
			continue
		}
		realPairs++
		if !expected[cellPair{p.Key, p.Value}] {
			t.Fatalf("leaf pair %d (leaf %d, triangle %d) was not expected", i, p.Key, p.Value)
		}
		r := ranges[p.Key]
		if uint32(i) < r.Start || uint32(i) >= r.End {
			t.Fatalf("leaf pair %d for leaf %d falls outside range [%d, %d)", i, p.Key, r.Start, r.End)
		}
	}
	if realPairs != len(expected) {
		t.Fatalf("expected %d leaf pairs; got %d", len(expected), realPairs)
	}
}

func TestTraversalAgainstBruteForce(t *testing.T) {
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

	// Cell-order early exit may legitimately return a farther hit than
	// the global closest when a large triangle is found from an earlier
	// cell, so the checks are: hits agree, the reported hit is a real
	// intersection, and it is never closer than the true closest.
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
		if got.T < exp.T-1e-3 {
			t.Fatalf("ray %d: reported t %f closer than closest hit %f", i, got.T, exp.T)
		}
		if !isGenuineHit(sc, rays[i], got) {
			t.Fatalf("ray %d: contact %+v matches no scene triangle", i, got)
		}
		if got.Pixel != uint32(i) {
			t.Fatalf("ray %d: expected pixel %d; got %d", i, i, got.Pixel)
		}
	}
	if hits == 0 {
		t.Fatal("expected at least one ray to hit the scene")
	}
}

func TestFirstHitMatchesClosestForSeparatedGeometry(t *testing.T) {
	// Thin plates perpendicular to z at irregular depths: every plate
	// occupies a single slab of cells along the ray axis, so cell-order
	// traversal must report the globally closest hit exactly.
	b := scene.NewBuilder()
	depths := []float32{-4.3, -1.7, 0.9, 3.1, 6.4}
	var mats []uint32
	for i := range depths {
		shade := float32(i+1) / float32(len(depths))
		mats = append(mats, b.AddMaterial(scene.Material{Diffuse: types.XYZ(shade, shade, shade)}))
	}
	for i, z := range depths {
		b.AddModel(scene.Mesh{
			Vertices: []types.Vec3{
				{-4, -4, z}, {4, -4, z}, {4, 4, z}, {-4, 4, z},
			},
			Indices:       []uint32{0, 1, 2, 0, 2, 3},
			MaterialIndex: mats[i],
		})
	}
	sc, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}

	m := constructTestManager(t, sc)
	defer m.Close()

	rays := []accel.Ray{
		{Pixel: 0, Origin: types.XYZ(0.3, 0.2, -12), Direction: types.XYZ(0, 0, 1)},
		{Pixel: 1, Origin: types.XYZ(-2.6, 3.1, -12), Direction: types.XYZ(0, 0, 1)},
		{Pixel: 2, Origin: types.XYZ(1.4, -1.9, 12), Direction: types.XYZ(0, 0, -1)},
		{Pixel: 3, Origin: types.XYZ(7.5, 0, -12), Direction: types.XYZ(0, 0, 1)},
	}
	contacts := compute.NewBuffer[accel.Contact](m.device, "contacts")
	if _, err = m.GenerateRayContacts(rays, contacts, uint32(len(rays))); err != nil {
		t.Fatal(err)
	}

	for i, got := range contacts.Data() {
		exp := bruteForceIntersect(sc, rays[i])
		if got.Hit() != exp.Hit() {
			t.Fatalf("ray %d: expected hit=%t; got hit=%t", i, exp.Hit(), got.Hit())
		}
		if !exp.Hit() {
			continue
		}
		if absf(got.T-exp.T) > 1e-3 {
			t.Fatalf("ray %d: expected t %f; got %f", i, exp.T, got.T)
		}
		if got.Material != exp.Material {
			t.Fatalf("ray %d: expected material %d; got %d", i, exp.Material, got.Material)
		}
	}
}

func TestSingleTriangleScene(t *testing.T) {
	m := constructTestManager(t, testSceneOneTriangle(t))
	defer m.Close()

	contacts := compute.NewBuffer[accel.Contact](m.device, "contacts")
	rays := []accel.Ray{
		{Pixel: 0, Origin: types.XYZ(0.25, 0.25, -5), Direction: types.XYZ(0, 0, 1)},
		{Pixel: 1, Origin: types.XYZ(5, 5, -5), Direction: types.XYZ(0, 0, 1)},
	}
	if _, err := m.GenerateRayContacts(rays, contacts, 2); err != nil {
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

func TestGridSizing(t *testing.T) {
	box := geom.AABB{Min: types.XYZ(0, 0, 0), Max: types.XYZ(10, 10, 10)}
	g := newGridData(box, 1000, 2)
	// cbrt(2 * 1000 / 1000) = 1.2599..., so each 10-unit axis gets 12
	// cells.
	for axis := 0; axis < 3; axis++ {
		if g.res[axis] != 12 {
			t.Fatalf("axis %d: expected resolution 12; got %d", axis, g.res[axis])
		}
		if absf(g.step[axis]-10.0/12.0) > 1e-5 {
			t.Fatalf("axis %d: expected step %f; got %f", axis, 10.0/12.0, g.step[axis])
		}
	}

	// A nearly flat axis must still get one cell.
	flat := geom.AABB{Min: types.XYZ(0, 0, 0), Max: types.XYZ(10, 0.001, 10)}
	g = newGridData(flat, 1, 2)
	if g.res[1] != 1 {
		t.Fatalf("expected flat axis clamped to 1 cell; got %d", g.res[1])
	}
	if g.res[0] < 1 || g.res[2] < 1 {
		t.Fatalf("expected positive resolutions; got %v", g.res)
	}
}

func TestDDAMarch(t *testing.T) {
	g := gridData{
		box:  geom.AABB{Min: types.XYZ(0, 0, 0), Max: types.XYZ(4, 4, 4)},
		res:  [3]int32{4, 4, 4},
		step: types.XYZ(1, 1, 1),
	}

	march := func(r geom.Ray) [][3]int32 {
		st, ok := setupDDA(r, g)
		if !ok {
			return nil
		}
		var cells [][3]int32
		for {
			cells = append(cells, st.idx)
			if !st.advance() {
				return cells
			}
		}
	}

	specs := []struct {
		descr string
		ray   geom.Ray
		exp   [][3]int32
	}{
		{
			descr: "axis aligned +x",
			ray:   geom.Ray{Origin: types.XYZ(-1, 0.5, 0.5), Direction: types.XYZ(1, 0, 0)},
			exp:   [][3]int32{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}},
		},
		{
			descr: "axis aligned -x",
			ray:   geom.Ray{Origin: types.XYZ(5, 0.5, 0.5), Direction: types.XYZ(-1, 0, 0)},
			exp:   [][3]int32{{3, 0, 0}, {2, 0, 0}, {1, 0, 0}, {0, 0, 0}},
		},
		{
			descr: "diagonal in xy",
			ray:   geom.Ray{Origin: types.XYZ(-1, -1, 0.5), Direction: types.XYZ(1, 1, 0)},
			exp: [][3]int32{
				{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {2, 1, 0}, {2, 2, 0}, {3, 2, 0}, {3, 3, 0},
			},
		},
		{
			descr: "origin inside",
			ray:   geom.Ray{Origin: types.XYZ(2.5, 2.5, 2.5), Direction: types.XYZ(0, 0, 1)},
			exp:   [][3]int32{{2, 2, 2}, {2, 2, 3}},
		},
		{
			descr: "parallel miss",
			ray:   geom.Ray{Origin: types.XYZ(-1, 5, 5), Direction: types.XYZ(1, 0, 0)},
			exp:   nil,
		},
		{
			descr: "grid behind origin",
			ray:   geom.Ray{Origin: types.XYZ(5, 2, 2), Direction: types.XYZ(1, 0, 0)},
			exp:   nil,
		},
	}

	for _, spec := range specs {
		got := march(spec.ray)
		if len(got) != len(spec.exp) {
			t.Fatalf("[%s] expected %d cells (%v); got %d (%v)", spec.descr, len(spec.exp), spec.exp, len(got), got)
		}
		for i := range got {
			if got[i] != spec.exp[i] {
				t.Fatalf("[%s] cell %d: expected %v; got %v", spec.descr, i, spec.exp[i], got[i])
			}
		}
	}
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

// isGenuineHit reports whether a contact corresponds to an actual
// ray-triangle intersection of the scene.
func isGenuineHit(sc *scene.Scene, r accel.Ray, c accel.Contact) bool {
	ray := geom.Ray{Origin: r.Origin, Direction: r.Direction}
	for i := uint32(0); i < sc.NumTriangles(); i++ {
		ref, err := sc.ResolveTriangle(i)
		if err != nil {
			continue
		}
		_, tval := geom.RayTriangle(ray, sc.FetchTriangle(ref))
		if tval > 0 && absf(tval-c.T) < 1e-3 && sc.MaterialIndexOf(ref) == c.Material {
			return true
		}
	}
	return false
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
