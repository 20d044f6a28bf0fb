package compute

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kotturtech/OpenCLRayTracer/log"
)

type DeviceType uint8

// Supported device types.
const (
	CpuDevice   DeviceType = 1 << iota
	GpuDevice              = 1 << iota
	OtherDevice            = 1 << iota
	AllDevices             = 0xFF
)

const (
	defaultMaxWorkgroupSize = 256
	defaultLocalMemSize     = 32 << 10
)

// Global ids are dispatched to workers in chunks to amortize the
// per-chunk atomic fetch.
const dispatchChunkSize = 1024

func (dt DeviceType) String() string {
	switch dt {
	case CpuDevice:
		return "CPU"
	case GpuDevice:
		return "GPU"
	case OtherDevice:
		return "Other"
	}
	panic("compute: unsupported device type")
}

// Device executes data-parallel kernels on a pool of host workers. It
// mirrors the capability surface of a GPU compute device (workgroup
// size, local memory budget) so that algorithms which partition work
// into workgroups run unchanged against it.
type Device struct {
	Name string
	Type DeviceType

	// Capabilities.
	ComputeUnits     int
	MaxWorkgroupSize int
	LocalMemSize     int

	initialized bool
	logger      log.Logger
}

// A list of devices.
type DeviceList []Device

// Implements Stringer.
func (d Device) String() string {
	return fmt.Sprintf(
		"Name: %s\nType: %s\nSpecs: %d computation units, %d max workgroup size, %d bytes local memory",
		d.Name,
		d.Type.String(),
		d.ComputeUnits,
		d.MaxWorkgroupSize,
		d.LocalMemSize,
	)
}

// Create a device with explicit capabilities. Used by tests to model
// constrained hardware; regular callers should use SelectDevices.
func NewDevice(name string, computeUnits, maxWorkgroupSize, localMemSize int) *Device {
	return &Device{
		Name:             name,
		Type:             CpuDevice,
		ComputeUnits:     computeUnits,
		MaxWorkgroupSize: maxWorkgroupSize,
		LocalMemSize:     localMemSize,
	}
}

// Initialize device.
func (d *Device) Init() error {
	// Already initialized
	if d.initialized {
		return nil
	}

	if d.ComputeUnits < 1 {
		return newError(KindPrecondition, d.Name, "init", fmt.Errorf("invalid compute unit count %d", d.ComputeUnits))
	}
	if d.MaxWorkgroupSize < 1 {
		return newError(KindPrecondition, d.Name, "init", ErrInvalidWorkgroupSize)
	}

	d.logger = log.New("device")
	d.initialized = true
	d.logger.Debugf("initialized device %q with %d workers", d.Name, d.ComputeUnits)
	return nil
}

// Shut down the device. Buffers bound to the device remain readable by
// the host but no further kernels can be dispatched.
func (d *Device) Close() {
	d.initialized = false
}

// Exec1D runs a kernel over a flat 1D grid of globalSize work items and
// blocks until every item has executed. The return mirrors a device
// queue wait: elapsed wall time for the launch.
func (d *Device) Exec1D(name string, globalSize int, kernel func(gid int)) (time.Duration, error) {
	if !d.initialized {
		return 0, newError(KindResource, d.Name, name, ErrDeviceNotInitialized)
	}
	if globalSize < 0 {
		return 0, newError(KindPrecondition, d.Name, name, fmt.Errorf("negative global work size %d", globalSize))
	}

	start := time.Now()
	if globalSize == 0 {
		return time.Since(start), nil
	}

	workers := d.ComputeUnits
	if workers > globalSize {
		workers = globalSize
	}

	var next uint64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				base := int(atomic.AddUint64(&next, dispatchChunkSize)) - dispatchChunkSize
				if base >= globalSize {
					return
				}
				end := base + dispatchChunkSize
				if end > globalSize {
					end = globalSize
				}
				for gid := base; gid < end; gid++ {
					kernel(gid)
				}
			}
		}()
	}
	wg.Wait()

	return time.Since(start), nil
}

// ExecGroups runs a workgroup-granular kernel: the kernel body is
// invoked once per workgroup and iterates its local ids itself, which
// lets it stage data in group-local scratch between phases.
func (d *Device) ExecGroups(name string, groupCount, localSize int, kernel func(group, localSize int)) (time.Duration, error) {
	if !d.initialized {
		return 0, newError(KindResource, d.Name, name, ErrDeviceNotInitialized)
	}
	if localSize < 1 || localSize > d.MaxWorkgroupSize {
		return 0, newError(KindPrecondition, d.Name, name, ErrInvalidWorkgroupSize)
	}

	return d.Exec1D(name, groupCount, func(group int) {
		kernel(group, localSize)
	})
}

// Check that a kernel requesting scratchBytes of group-local storage
// fits the device local memory budget.
func (d *Device) CheckLocalMemory(op string, scratchBytes int) error {
	if scratchBytes > d.LocalMemSize {
		return newError(KindResource, d.Name, op, fmt.Errorf("%w: need %d bytes, device provides %d", ErrInsufficientLocalMemory, scratchBytes, d.LocalMemSize))
	}
	return nil
}

// Return the set of available compute devices matching the given type mask.
func SelectDevices(typeMask DeviceType) DeviceList {
	var list DeviceList
	if typeMask&CpuDevice == CpuDevice {
		list = append(list, Device{
			Name:             "host worker pool",
			Type:             CpuDevice,
			ComputeUnits:     runtime.NumCPU(),
			MaxWorkgroupSize: defaultMaxWorkgroupSize,
			LocalMemSize:     defaultLocalMemSize,
		})
	}
	return list
}
