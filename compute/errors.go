package compute

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotInitialized    = errors.New("device not initialized")
	ErrInvalidWorkgroupSize    = errors.New("invalid workgroup size")
	ErrInsufficientLocalMemory = errors.New("insufficient local memory")
	ErrBufferReleased          = errors.New("buffer not allocated")
	ErrNotPowerOfTwo           = errors.New("input size must be adjusted to power of 2")
)

type ErrorKind uint8

// Failure classes. Resource errors originate from the device or its
// memory budget; precondition errors mean the caller violated the
// operation contract; internal errors indicate a broken invariant
// detected at runtime.
const (
	KindResource ErrorKind = iota
	KindPrecondition
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindPrecondition:
		return "precondition"
	case KindInternal:
		return "internal"
	}
	return "unknown"
}

// Error annotates a failure with the device and operation it occurred
// in. It unwraps to the underlying cause so sentinel checks with
// errors.Is keep working.
type Error struct {
	Kind   ErrorKind
	Device string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compute device (%s): %s: %s error: %s", e.Device, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, device, op string, err error) *Error {
	return &Error{Kind: kind, Device: device, Op: op, Err: err}
}

// NewError builds a classified device error. Exposed so structure
// managers can report failures with the same shape as the device layer.
func NewError(kind ErrorKind, device, op string, err error) *Error {
	return newError(kind, device, op, err)
}

// KindOf extracts the failure class from an error chain; unclassified
// errors report as internal.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}
