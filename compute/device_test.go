package compute

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestExec1DVisitsEveryGlobalID(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	const globalSize = 10000
	hits := make([]uint32, globalSize)
	_, err := dev.Exec1D("mark", globalSize, func(gid int) {
		atomic.AddUint32(&hits[gid], 1)
	})
	if err != nil {
		t.Fatal(err)
	}

	for gid, count := range hits {
		if count != 1 {
			t.Fatalf("expected global id %d to be visited once; got %d", gid, count)
		}
	}
}

func TestExec1DOnUninitializedDevice(t *testing.T) {
	dev := NewDevice("test device", 4, 64, 1024)

	_, err := dev.Exec1D("noop", 1, func(int) {})
	if !errors.Is(err, ErrDeviceNotInitialized) {
		t.Fatalf("expected ErrDeviceNotInitialized; got %v", err)
	}
	if KindOf(err) != KindResource {
		t.Fatalf("expected resource error; got %s", KindOf(err))
	}
}

func TestExec1DZeroWorkSize(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	_, err := dev.Exec1D("noop", 0, func(int) {
		t.Fatal("kernel should not run for an empty grid")
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExecGroups(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	const groups = 7
	const localSize = 16
	sums := make([]int32, groups)
	_, err := dev.ExecGroups("groupSum", groups, localSize, func(group, local int) {
		for lid := 0; lid < local; lid++ {
			sums[group]++
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	for group, sum := range sums {
		if sum != localSize {
			t.Fatalf("expected group %d to execute %d local ids; got %d", group, localSize, sum)
		}
	}
}

func TestExecGroupsRejectsOversizedWorkgroup(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	_, err := dev.ExecGroups("noop", 1, dev.MaxWorkgroupSize+1, func(int, int) {})
	if !errors.Is(err, ErrInvalidWorkgroupSize) {
		t.Fatalf("expected ErrInvalidWorkgroupSize; got %v", err)
	}
}

func TestCheckLocalMemory(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	if err := dev.CheckLocalMemory("scan", dev.LocalMemSize); err != nil {
		t.Fatal(err)
	}

	err := dev.CheckLocalMemory("scan", dev.LocalMemSize+1)
	if !errors.Is(err, ErrInsufficientLocalMemory) {
		t.Fatalf("expected ErrInsufficientLocalMemory; got %v", err)
	}
	if KindOf(err) != KindResource {
		t.Fatalf("expected resource error; got %s", KindOf(err))
	}
}

func TestInitIsIdempotent(t *testing.T) {
	dev := createTestDevice(t)
	defer dev.Close()

	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
}

func TestSelectDevices(t *testing.T) {
	list := SelectDevices(CpuDevice)
	if len(list) != 1 {
		t.Fatalf("expected 1 cpu device; got %d", len(list))
	}
	if list[0].Type != CpuDevice {
		t.Fatalf("expected device type CPU; got %s", list[0].Type)
	}

	list = SelectDevices(GpuDevice)
	if len(list) != 0 {
		t.Fatalf("expected no gpu devices; got %d", len(list))
	}
}

func createTestDevice(t *testing.T) *Device {
	dev := NewDevice("test device", 4, 64, 1024)
	if err := dev.Init(); err != nil {
		t.Fatal(err)
	}
	return dev
}
