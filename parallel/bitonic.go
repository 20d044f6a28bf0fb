package parallel

import (
	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/log"
)

// Sorter sorts key/value pair buffers with a bitonic sorting network.
// Every pass dispatches one compare-exchange per element pair and the
// launch boundary acts as the barrier between passes, so the network
// runs correctly regardless of how the device schedules work items.
type Sorter struct {
	device *compute.Device
	logger log.Logger
}

func NewSorter(device *compute.Device) *Sorter {
	return &Sorter{
		device: device,
		logger: log.New("bitonicSort"),
	}
}

// Sort orders the buffer by ascending key. The buffer size must be a
// power of two; pairs with equal keys may exchange their values.
func (s *Sorter) Sort(pairs *compute.Buffer[Pair]) error {
	n := pairs.Size()
	if n < 2 {
		return nil
	}
	if !IsPowerOfTwo(n) {
		return compute.NewError(compute.KindPrecondition, s.device.Name, "bitonicSort", compute.ErrNotPowerOfTwo)
	}

	data := pairs.Data()
	for length := 1; length < n; length <<= 1 {
		dir := length << 1
		for inc := length; inc > 0; inc >>= 1 {
			inc := inc
			_, err := s.device.Exec1D("bitonicCompareExchange", n/2, func(t int) {
				low := t & (inc - 1)
				i := (t << 1) - low
				j := i + inc
				reverse := i&dir == 0
				if reverse != (data[i].Key < data[j].Key) {
					data[i], data[j] = data[j], data[i]
				}
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
