package compute

import "fmt"

// Buffer is a typed block of device-visible memory. Kernels access the
// backing slice directly via Data; the host-facing Read/Write methods
// copy, mirroring a device queue transfer.
type Buffer[T any] struct {
	device *Device
	name   string
	data   []T
}

// Create a named buffer bound to a device.
func NewBuffer[T any](device *Device, name string) *Buffer[T] {
	return &Buffer[T]{
		device: device,
		name:   name,
	}
}

// Get buffer size in elements.
func (b *Buffer[T]) Size() int {
	return len(b.data)
}

// Get the buffer name.
func (b *Buffer[T]) Name() string {
	return b.name
}

// Resize the buffer to hold size elements. Existing capacity is reused;
// growing reallocates and discards prior contents.
func (b *Buffer[T]) Resize(size int) error {
	if size < 0 {
		return newError(KindPrecondition, b.device.Name, "resize "+b.name, fmt.Errorf("negative buffer size %d", size))
	}
	if size <= cap(b.data) {
		b.data = b.data[:size]
		return nil
	}
	b.data = make([]T, size)
	return nil
}

// Fill every element with the given value.
func (b *Buffer[T]) Fill(val T) {
	for i := range b.data {
		b.data[i] = val
	}
}

// Resize the buffer to fit data and copy it in.
func (b *Buffer[T]) Write(data []T) error {
	if err := b.Resize(len(data)); err != nil {
		return err
	}
	copy(b.data, data)
	return nil
}

// Copy buffer contents into dst. dst must be at least as large as the
// buffer.
func (b *Buffer[T]) Read(dst []T) error {
	if b.data == nil {
		return newError(KindResource, b.device.Name, "read "+b.name, ErrBufferReleased)
	}
	if len(dst) < len(b.data) {
		return newError(KindPrecondition, b.device.Name, "read "+b.name, fmt.Errorf("destination holds %d elements, buffer holds %d", len(dst), len(b.data)))
	}
	copy(dst, b.data)
	return nil
}

// Get a single element by index.
func (b *Buffer[T]) Element(index int) (T, error) {
	var zero T
	if index < 0 || index >= len(b.data) {
		return zero, newError(KindPrecondition, b.device.Name, "element "+b.name, fmt.Errorf("index %d out of range [0, %d)", index, len(b.data)))
	}
	return b.data[index], nil
}

// Data exposes the backing slice for kernel access. The slice is only
// valid until the next Resize.
func (b *Buffer[T]) Data() []T {
	return b.data
}

// Release the buffer storage.
func (b *Buffer[T]) Release() {
	b.data = nil
}
