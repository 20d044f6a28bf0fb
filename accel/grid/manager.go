package grid

import (
	"time"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/log"
	"github.com/kotturtech/OpenCLRayTracer/parallel"
	"github.com/kotturtech/OpenCLRayTracer/scene"
)

// Default expected number of primitives per cell at each grid level.
const (
	defaultTopLevelDensity = 2.0
	defaultLeafDensity     = 2.0
)

// Manager builds and queries a two-level grid over the triangles of an
// attached scene. It implements accel.Manager.
type Manager struct {
	device *compute.Device
	scene  *scene.Scene
	logger log.Logger

	topLevelDensity float32
	leafDensity     float32

	initialized bool
	frameReady  bool
	constructed bool

	numPrims int
	grid     gridData

	// Per-frame host caches; resolving a global triangle index through
	// the scene headers on every cell visit is too hot a path.
	triangles []geom.Triangle
	materials []uint32

	counters      *compute.Buffer[uint32]
	scanOut       *compute.Buffer[uint32]
	pairs         *compute.Buffer[parallel.Pair]
	cellRanges    *compute.Buffer[CellRange]
	topLevelCells *compute.Buffer[TopLevelCell]
	leafPairs     *compute.Buffer[parallel.Pair]
	leafRanges    *compute.Buffer[CellRange]
	contacts      *compute.Buffer[accel.Contact]

	sorter  *parallel.Sorter
	scanner *parallel.Scanner
}

// Compile-time contract check.
var _ accel.Manager = (*Manager)(nil)

// NewManager creates a two-level grid manager for the given device and
// scene, with the default cell densities.
func NewManager(device *compute.Device, sc *scene.Scene) *Manager {
	return &Manager{
		device:          device,
		scene:           sc,
		logger:          log.New("grid"),
		topLevelDensity: defaultTopLevelDensity,
		leafDensity:     defaultLeafDensity,
	}
}

// SetDensities overrides the expected primitive count per top-level and
// leaf cell. Takes effect at the next InitializeFrame.
func (m *Manager) SetDensities(topLevel, leaf float32) {
	m.topLevelDensity = topLevel
	m.leafDensity = leaf
}

// Initialize binds the manager to its device and allocates the static
// buffer set. Idempotent.
func (m *Manager) Initialize() error {
	if m.initialized {
		return nil
	}
	if m.scene == nil {
		return accel.ErrNilScene
	}
	if err := m.device.Init(); err != nil {
		return err
	}

	m.counters = compute.NewBuffer[uint32](m.device, "cellCounters")
	m.scanOut = compute.NewBuffer[uint32](m.device, "cellPrefixSums")
	m.pairs = compute.NewBuffer[parallel.Pair](m.device, "cellPairs")
	m.cellRanges = compute.NewBuffer[CellRange](m.device, "cellRanges")
	m.topLevelCells = compute.NewBuffer[TopLevelCell](m.device, "topLevelCells")
	m.leafPairs = compute.NewBuffer[parallel.Pair](m.device, "leafPairs")
	m.leafRanges = compute.NewBuffer[CellRange](m.device, "leafRanges")
	m.contacts = compute.NewBuffer[accel.Contact](m.device, "primaryContacts")
	m.sorter = parallel.NewSorter(m.device)
	m.scanner = parallel.NewScanner(m.device)

	m.initialized = true
	return nil
}

// InitializeFrame derives the top-level grid from the current scene
// bounds and primitive count, sizes the per-frame buffers and refreshes
// the host-side triangle cache. Density changes take effect here.
func (m *Manager) InitializeFrame() error {
	if !m.initialized {
		return accel.ErrNotInitialized
	}

	m.numPrims = int(m.scene.NumTriangles())
	n := m.numPrims
	m.grid = newGridData(m.scene.Bounds(), n, m.topLevelDensity)
	cells := m.grid.numCells()
	m.logger.Debugf("top level grid %dx%dx%d over %d triangles", m.grid.res[0], m.grid.res[1], m.grid.res[2], n)

	scanSize := parallel.NextPowerOfTwo(n)
	if c := parallel.NextPowerOfTwo(cells); c > scanSize {
		scanSize = c
	}
	if err := m.counters.Resize(scanSize); err != nil {
		return err
	}
	if err := m.scanOut.Resize(scanSize); err != nil {
		return err
	}
	if err := m.cellRanges.Resize(cells); err != nil {
		return err
	}
	if err := m.topLevelCells.Resize(cells); err != nil {
		return err
	}
	m.topLevelCells.Fill(TopLevelCell{})

	m.triangles = make([]geom.Triangle, n)
	m.materials = make([]uint32, n)
	elapsed, err := m.device.Exec1D("fetchSceneTriangles", n, func(gid int) {
		ref, refErr := m.scene.ResolveTriangle(uint32(gid))
		if refErr != nil {
			return
		}
		m.triangles[gid] = m.scene.FetchTriangle(ref)
		m.materials[gid] = m.scene.MaterialIndexOf(ref)
	})
	if err != nil {
		return err
	}
	m.logger.Debugf("fetched %d triangles in %s", n, elapsed)

	m.frameReady = true
	m.constructed = false
	return nil
}

// Construct rebuilds both grid levels for the current frame.
//
// The pipeline is the same idiom applied twice: count the cell overlaps
// of every item, prefix-sum the counts into write offsets, emit sorted
// (cell, triangle) pairs and extract per-cell ranges. The top level
// runs it over raw triangles with a coarse box-box overlap; the leaf
// level runs it over the top-level pairs with the exact triangle-box
// separating axis test, so leaf ranges never miss a real intersection
// while the cheap coarse pass only costs wasted counted slots.
func (m *Manager) Construct() (time.Duration, error) {
	if !m.frameReady {
		return 0, accel.ErrNoFrame
	}

	start := time.Now()
	n := m.numPrims
	cells := m.grid.numCells()
	grid := m.grid
	tris := m.triangles

	// Top-level pair counts per triangle.
	if err := m.counters.Resize(parallel.NextPowerOfTwo(n)); err != nil {
		return 0, err
	}
	m.counters.Fill(0)
	counters := m.counters.Data()
	elapsed, err := m.device.Exec1D("countCellPairs", n, func(gid int) {
		lo, hi := grid.cellSpan(geom.TriangleAABB(tris[gid]))
		counters[gid] = spanSize(lo, hi)
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("countCellPairs: %s", elapsed)

	if err = m.scanner.Scan(m.counters, m.scanOut); err != nil {
		return 0, err
	}
	pairsCount32, err := m.scanOut.Element(n - 1)
	if err != nil {
		return 0, err
	}
	pairsCount := int(pairsCount32)
	pairsPow2 := parallel.NextPowerOfTwo(pairsCount)

	// Sorted (cell, triangle) pairs; padding slots carry the sentinel
	// key so they sort behind every real cell index.
	if err = m.pairs.Resize(pairsPow2); err != nil {
		return 0, err
	}
	m.pairs.Fill(parallel.Pair{Key: parallel.SentinelKey, Value: parallel.SentinelKey})
	pairs := m.pairs.Data()
	scan := m.scanOut.Data()
	elapsed, err = m.device.Exec1D("writeCellPairs", n, func(gid int) {
		offset := scan[gid] - counters[gid]
		lo, hi := grid.cellSpan(geom.TriangleAABB(tris[gid]))
		for iz := lo[2]; iz <= hi[2]; iz++ {
			for iy := lo[1]; iy <= hi[1]; iy++ {
				for ix := lo[0]; ix <= hi[0]; ix++ {
					pairs[offset] = parallel.Pair{Key: grid.cellIndex(ix, iy, iz), Value: uint32(gid)}
					offset++
				}
			}
		}
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("writeCellPairs: %d pairs, %s", pairsCount, elapsed)

	if err = m.sorter.Sort(m.pairs); err != nil {
		return 0, err
	}

	m.cellRanges.Fill(CellRange{})
	if err = m.extractRanges("extractCellRanges", pairs, pairsCount, m.cellRanges.Data()); err != nil {
		return 0, err
	}

	// Leaf sub-grid resolution per occupied top-level cell.
	if err = m.counters.Resize(parallel.NextPowerOfTwo(cells)); err != nil {
		return 0, err
	}
	m.counters.Fill(0)
	counters = m.counters.Data()
	ranges := m.cellRanges.Data()
	topCells := m.topLevelCells.Data()
	leafDensity := m.leafDensity
	elapsed, err = m.device.Exec1D("fillTopLevelCells", cells, func(gid int) {
		r := ranges[gid]
		count := r.End - r.Start
		if count == 0 {
			topCells[gid] = TopLevelCell{}
			return
		}
		ix, iy, iz := grid.cellCoords(uint32(gid))
		leaf := newGridData(grid.cellBox(ix, iy, iz), int(count), leafDensity)
		topCells[gid] = TopLevelCell{
			ResX: uint32(leaf.res[0]),
			ResY: uint32(leaf.res[1]),
			ResZ: uint32(leaf.res[2]),
		}
		counters[gid] = uint32(leaf.numCells())
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("fillTopLevelCells: %s", elapsed)

	if err = m.scanner.Scan(m.counters, m.scanOut); err != nil {
		return 0, err
	}
	leafCellsCount32, err := m.scanOut.Element(cells - 1)
	if err != nil {
		return 0, err
	}
	leafCellsCount := int(leafCellsCount32)

	scan = m.scanOut.Data()
	elapsed, err = m.device.Exec1D("assignLeafRanges", cells, func(gid int) {
		topCells[gid].FirstLeaf = scan[gid] - counters[gid]
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("assignLeafRanges: %d leaf cells, %s", leafCellsCount, elapsed)

	// Leaf pair counts per top-level pair. The coarse span count is an
	// upper bound on what the exact test writes, so unwritten slots
	// keep the sentinel and fall out during range extraction.
	if err = m.counters.Resize(pairsPow2); err != nil {
		return 0, err
	}
	counters = m.counters.Data()
	elapsed, err = m.device.Exec1D("countLeafPairs", pairsPow2, func(gid int) {
		if gid >= pairsCount {
			counters[gid] = 0
			return
		}
		p := pairs[gid]
		ix, iy, iz := grid.cellCoords(p.Key)
		leaf := cellGrid(topCells[p.Key], grid.cellBox(ix, iy, iz))
		lo, hi := leaf.cellSpan(geom.TriangleAABB(tris[p.Value]))
		counters[gid] = spanSize(lo, hi)
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("countLeafPairs: %s", elapsed)

	if err = m.scanner.Scan(m.counters, m.scanOut); err != nil {
		return 0, err
	}
	leafPairsCount32, err := m.scanOut.Element(pairsPow2 - 1)
	if err != nil {
		return 0, err
	}
	leafPairsCount := int(leafPairsCount32)

	if err = m.leafPairs.Resize(parallel.NextPowerOfTwo(leafPairsCount)); err != nil {
		return 0, err
	}
	m.leafPairs.Fill(parallel.Pair{Key: parallel.SentinelKey, Value: parallel.SentinelKey})
	leafPairs := m.leafPairs.Data()
	scan = m.scanOut.Data()
	elapsed, err = m.device.Exec1D("writeLeafPairs", pairsCount, func(gid int) {
		offset := scan[gid] - counters[gid]
		p := pairs[gid]
		tri := tris[p.Value]
		cell := topCells[p.Key]
		ix, iy, iz := grid.cellCoords(p.Key)
		leaf := cellGrid(cell, grid.cellBox(ix, iy, iz))
		lo, hi := leaf.cellSpan(geom.TriangleAABB(tri))
		for lz := lo[2]; lz <= hi[2]; lz++ {
			for ly := lo[1]; ly <= hi[1]; ly++ {
				for lx := lo[0]; lx <= hi[0]; lx++ {
					if !geom.BoxTriangleOverlap(leaf.cellBox(lx, ly, lz), tri) {
						continue
					}
					leafPairs[offset] = parallel.Pair{
						Key:   cell.FirstLeaf + leaf.cellIndex(lx, ly, lz),
						Value: p.Value,
					}
					offset++
				}
			}
		}
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("writeLeafPairs: %d pairs, %s", leafPairsCount, elapsed)

	if err = m.sorter.Sort(m.leafPairs); err != nil {
		return 0, err
	}

	if err = m.leafRanges.Resize(leafCellsCount); err != nil {
		return 0, err
	}
	m.leafRanges.Fill(CellRange{})
	if err = m.extractRanges("extractLeafRanges", leafPairs, leafPairsCount, m.leafRanges.Data()); err != nil {
		return 0, err
	}

	m.constructed = true
	total := time.Since(start)
	m.logger.Debugf("constructed grid over %d triangles in %s", n, total)
	return total, nil
}

// extractRanges derives per-cell [Start, End) ranges from a sorted pair
// array by comparing neighboring keys. Each workgroup stages its keys
// plus a one-element halo on either side in local scratch, then every
// run boundary inside the group writes exactly one range field. Padding
// slots carry the sentinel key and are skipped, which also closes the
// last real run at the real-to-sentinel boundary.
func (m *Manager) extractRanges(name string, pairs []parallel.Pair, count int, ranges []CellRange) error {
	localSize := m.device.MaxWorkgroupSize
	if err := m.device.CheckLocalMemory(name, (localSize+2)*4); err != nil {
		return err
	}
	groupCount := (count + localSize - 1) / localSize

	elapsed, err := m.device.ExecGroups(name, groupCount, localSize, func(group, localSize int) {
		base := group * localSize
		scratch := make([]uint32, localSize+2)

		for i := 0; i < localSize; i++ {
			if g := base + i; g < count {
				scratch[i+1] = pairs[g].Key
			} else {
				scratch[i+1] = parallel.SentinelKey
			}
		}
		if base == 0 {
			scratch[0] = parallel.SentinelKey
		} else {
			scratch[0] = pairs[base-1].Key
		}
		if next := base + localSize; next < count {
			scratch[localSize+1] = pairs[next].Key
		} else {
			scratch[localSize+1] = parallel.SentinelKey
		}

		for i := 0; i < localSize; i++ {
			g := base + i
			if g >= count {
				return
			}
			key := scratch[i+1]
			if key == parallel.SentinelKey {
				continue
			}
			if scratch[i] != key {
				ranges[key].Start = uint32(g)
			}
			if scratch[i+2] != key {
				ranges[key].End = uint32(g + 1)
			}
		}
	})
	if err != nil {
		return err
	}
	m.logger.Debugf("%s: %s", name, elapsed)
	return nil
}

// GenerateContacts traces one primary ray per camera pixel into the
// manager's contact buffer.
func (m *Manager) GenerateContacts(cam *scene.Camera) (time.Duration, error) {
	if !m.constructed {
		return 0, accel.ErrNotConstructed
	}

	width, height := int(cam.Width), int(cam.Height)
	if err := m.contacts.Resize(width * height); err != nil {
		return 0, err
	}

	contacts := m.contacts.Data()
	return m.device.Exec1D("generateCameraContacts", width*height, func(gid int) {
		x := uint32(gid % width)
		y := uint32(gid / width)
		contacts[gid] = m.intersect(accel.Ray{
			Pixel:     uint32(gid),
			Origin:    cam.Position,
			Direction: cam.PixelRay(x, y),
		})
	})
}

// GenerateRayContacts traces caller-supplied rays into a caller-owned
// contact buffer.
func (m *Manager) GenerateRayContacts(rays []accel.Ray, contacts *compute.Buffer[accel.Contact], rayCount uint32) (time.Duration, error) {
	if !m.constructed {
		return 0, accel.ErrNotConstructed
	}
	if int(rayCount) > len(rays) {
		return 0, accel.ErrRayCountTooHigh
	}
	if err := contacts.Resize(int(rayCount)); err != nil {
		return 0, err
	}

	out := contacts.Data()
	return m.device.Exec1D("generateRayContacts", int(rayCount), func(gid int) {
		out[gid] = m.intersect(rays[gid])
	})
}

// PrimaryContacts exposes the contact buffer the camera path fills.
func (m *Manager) PrimaryContacts() *compute.Buffer[accel.Contact] {
	return m.contacts
}

// TopLevelCells exposes the top-level cell array for inspection and
// validation.
func (m *Manager) TopLevelCells() []TopLevelCell {
	return m.topLevelCells.Data()
}

// Close releases the device buffers.
func (m *Manager) Close() {
	if !m.initialized {
		return
	}
	m.counters.Release()
	m.scanOut.Release()
	m.pairs.Release()
	m.cellRanges.Release()
	m.topLevelCells.Release()
	m.leafPairs.Release()
	m.leafRanges.Release()
	m.contacts.Release()
	m.triangles = nil
	m.materials = nil
	m.initialized = false
	m.frameReady = false
	m.constructed = false
}
