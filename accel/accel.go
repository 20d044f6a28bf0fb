// Package accel defines the contract shared by the acceleration
// structure implementations. A manager binds a scene to a compute
// device, (re)builds its spatial index per frame and answers
// closest-hit queries for camera pixels or caller-supplied rays.
package accel

import (
	"errors"
	"time"

	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/scene"
	"github.com/kotturtech/OpenCLRayTracer/types"
)

var (
	ErrNotInitialized  = errors.New("accel: manager not initialized")
	ErrNoFrame         = errors.New("accel: no frame initialized")
	ErrNotConstructed  = errors.New("accel: structure not constructed for current frame")
	ErrNilScene        = errors.New("accel: nil scene")
	ErrRayCountTooHigh = errors.New("accel: ray count exceeds supplied buffers")
)

// Ray is a traversal query. Pixel carries the index of the framebuffer
// cell a result should land in; for caller-generated rays it is free
// for any correlation id.
type Ray struct {
	Pixel     uint32
	Origin    types.Vec3
	Direction types.Vec3
}

// Contact is the closest-hit record a traversal emits. The zero value
// means no intersection: T of a real hit is always positive.
type Contact struct {
	Pixel    uint32
	Material uint32
	T        float32
	Normal   types.Vec3
}

// NoContact is the record emitted for rays that hit nothing.
var NoContact = Contact{}

// Hit reports whether the contact records a real intersection.
func (c Contact) Hit() bool {
	return c.T > 0
}

// Manager is the lifecycle contract of an acceleration structure.
//
// Initialize binds static resources once; InitializeFrame sizes the
// per-frame buffers for the attached scene; Construct builds the index
// and must be called again whenever the scene geometry changes.
// GenerateContacts traces one primary ray per camera pixel into the
// manager's contact buffer, while GenerateRayContacts traces
// caller-supplied rays into a caller-supplied buffer. Both traversals
// share one code path.
type Manager interface {
	Initialize() error
	InitializeFrame() error
	Construct() (time.Duration, error)
	GenerateContacts(cam *scene.Camera) (time.Duration, error)
	GenerateRayContacts(rays []Ray, contacts *compute.Buffer[Contact], rayCount uint32) (time.Duration, error)
	PrimaryContacts() *compute.Buffer[Contact]
	Close()
}
