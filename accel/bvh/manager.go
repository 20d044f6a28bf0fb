package bvh

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/kotturtech/OpenCLRayTracer/accel"
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/geom"
	"github.com/kotturtech/OpenCLRayTracer/log"
	"github.com/kotturtech/OpenCLRayTracer/parallel"
	"github.com/kotturtech/OpenCLRayTracer/scene"
)

// Manager builds and queries a linear BVH over the triangles of an
// attached scene. It implements accel.Manager.
type Manager struct {
	device *compute.Device
	scene  *scene.Scene
	logger log.Logger

	initialized bool
	frameReady  bool
	constructed bool

	numLeaves int

	// Per-frame host caches; resolving a global triangle index through
	// the scene headers on every leaf visit is too hot a path.
	triangles []geom.Triangle
	materials []uint32

	nodes         *compute.Buffer[Node]
	mortonPairs   *compute.Buffer[parallel.Pair]
	visitCounters *compute.Buffer[uint32]
	contacts      *compute.Buffer[accel.Contact]

	sorter *parallel.Sorter
}

// Compile-time contract check.
var _ accel.Manager = (*Manager)(nil)

// NewManager creates a BVH manager for the given device and scene.
func NewManager(device *compute.Device, sc *scene.Scene) *Manager {
	return &Manager{
		device: device,
		scene:  sc,
		logger: log.New("bvh"),
	}
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

	m.nodes = compute.NewBuffer[Node](m.device, "bvhNodes")
	m.mortonPairs = compute.NewBuffer[parallel.Pair](m.device, "sortedMortonCodes")
	m.visitCounters = compute.NewBuffer[uint32](m.device, "nodeVisitCounters")
	m.contacts = compute.NewBuffer[accel.Contact](m.device, "primaryContacts")
	m.sorter = parallel.NewSorter(m.device)

	m.initialized = true
	return nil
}

// InitializeFrame sizes the construction buffers for the current scene
// geometry and refreshes the host-side triangle cache.
func (m *Manager) InitializeFrame() error {
	if !m.initialized {
		return accel.ErrNotInitialized
	}

	m.numLeaves = int(m.scene.NumTriangles())
	n := m.numLeaves

	if err := m.nodes.Resize(2*n - 1); err != nil {
		return err
	}
	if err := m.mortonPairs.Resize(parallel.NextPowerOfTwo(n)); err != nil {
		return err
	}
	if err := m.visitCounters.Resize(2*n - 1); err != nil {
		return err
	}

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

// Construct rebuilds the hierarchy for the current frame.
func (m *Manager) Construct() (time.Duration, error) {
	if !m.frameReady {
		return 0, accel.ErrNoFrame
	}

	start := time.Now()
	n := m.numLeaves
	bounds := m.scene.Bounds()
	invExtents := bounds.Extents()
	for axis := 0; axis < 3; axis++ {
		invExtents[axis] = 1.0 / invExtents[axis]
	}

	nodes := m.nodes.Data()
	pairs := m.mortonPairs.Data()
	counters := m.visitCounters.Data()

	// Leaf nodes and cleared inner nodes; padding pairs carry the
	// sentinel key so they sort behind every real code.
	m.mortonPairs.Fill(parallel.Pair{Key: parallel.SentinelKey, Value: parallel.SentinelKey})
	m.visitCounters.Fill(0)
	elapsed, err := m.device.Exec1D("initializeLeaves", n, func(gid int) {
		tri := m.triangles[gid]
		nodes[gid] = Node{
			Box:      geom.TriangleAABB(tri),
			Parent:   math.MaxUint32,
			Triangle: uint32(gid),
			Kind:     LeafNode,
		}

		centroid := tri.Centroid().Sub(bounds.Min).MulVec(invExtents)
		pairs[gid] = parallel.Pair{
			Key:   Morton3D(centroid[0], centroid[1], centroid[2]),
			Value: uint32(gid),
		}

		if gid < n-1 {
			nodes[gid+n] = Node{Box: geom.EmptyAABB(), Parent: math.MaxUint32, Kind: InnerNode}
		}
	})
	if err != nil {
		return 0, err
	}
	m.logger.Debugf("initializeLeaves: %s", elapsed)

	if err = m.sorter.Sort(m.mortonPairs); err != nil {
		return 0, err
	}

	if n > 1 {
		elapsed, err = m.device.Exec1D("constructRadixTree", n-1, func(gid int) {
			constructNode(nodes, pairs, n, gid)
		})
		if err != nil {
			return 0, err
		}
		m.logger.Debugf("constructRadixTree: %s", elapsed)

		// Bottom-up box propagation: one walker per leaf, the second
		// walker to arrive at a node merges its children and continues.
		elapsed, err = m.device.Exec1D("computeBoundingBoxes", n, func(gid int) {
			parent := nodes[gid].Parent
			for parent != math.MaxUint32 {
				if atomic.AddUint32(&counters[parent], 1) == 1 {
					return
				}
				node := &nodes[parent]
				node.Box = nodes[node.Left].Box.Union(nodes[node.Right].Box)
				parent = node.Parent
			}
		})
		if err != nil {
			return 0, err
		}
		m.logger.Debugf("computeBoundingBoxes: %s", elapsed)
	}

	m.constructed = true
	total := time.Since(start)
	m.logger.Debugf("constructed hierarchy over %d leaves in %s", n, total)
	return total, nil
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

// Nodes exposes the node arena for inspection and validation.
func (m *Manager) Nodes() []Node {
	return m.nodes.Data()
}

// NumLeaves returns the leaf count of the last initialized frame.
func (m *Manager) NumLeaves() int {
	return m.numLeaves
}

// Close releases the device buffers.
func (m *Manager) Close() {
	if !m.initialized {
		return
	}
	m.nodes.Release()
	m.mortonPairs.Release()
	m.visitCounters.Release()
	m.contacts.Release()
	m.triangles = nil
	m.materials = nil
	m.initialized = false
	m.frameReady = false
	m.constructed = false
}
