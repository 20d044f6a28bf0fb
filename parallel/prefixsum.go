package parallel

import (
	"fmt"

	"github.com/kotturtech/OpenCLRayTracer/compute"
	"github.com/kotturtech/OpenCLRayTracer/log"
)

// Scanner computes inclusive prefix sums over uint32 buffers with the
// two-phase Blelloch scheme: each workgroup scans a block of twice its
// size in local scratch, then carried block totals are scanned and
// added back. Callers recover a record's start offset as
// out[i] - in[i] and the grand total as out[size-1].
type Scanner struct {
	device *compute.Device
	logger log.Logger
}

func NewScanner(device *compute.Device) *Scanner {
	return &Scanner{
		device: device,
		logger: log.New("prefixSum"),
	}
}

// Scan fills out with the inclusive prefix sum of in. The input size
// must be a power of two and the device must provide enough local
// memory for one block of scratch per workgroup.
func (s *Scanner) Scan(in, out *compute.Buffer[uint32]) error {
	n := in.Size()
	if n == 0 {
		return out.Resize(0)
	}
	if !IsPowerOfTwo(n) {
		return compute.NewError(compute.KindPrecondition, s.device.Name, "prefixSum", compute.ErrNotPowerOfTwo)
	}

	blockSize := 2 * s.device.MaxWorkgroupSize
	if err := s.device.CheckLocalMemory("prefixSum", blockSize*4); err != nil {
		return err
	}
	if err := out.Resize(n); err != nil {
		return err
	}

	return s.scanLevel(in.Data(), out.Data(), blockSize, 0)
}

func (s *Scanner) scanLevel(in, out []uint32, blockSize, level int) error {
	n := len(in)
	numBlocks := (n + blockSize - 1) / blockSize

	_, err := s.device.ExecGroups("prefixSumGroup", numBlocks, s.device.MaxWorkgroupSize, func(group, localSize int) {
		base := group * blockSize
		count := n - base
		if count > blockSize {
			count = blockSize
		}

		// Group-local scratch, padded with zeros past the block end.
		scratch := make([]uint32, blockSize)
		copy(scratch, in[base:base+count])

		// Up-sweep.
		for offset := 1; offset < blockSize; offset <<= 1 {
			for i := offset*2 - 1; i < blockSize; i += offset * 2 {
				scratch[i] += scratch[i-offset]
			}
		}

		// Down-sweep produces the exclusive scan.
		scratch[blockSize-1] = 0
		for offset := blockSize >> 1; offset >= 1; offset >>= 1 {
			for i := offset*2 - 1; i < blockSize; i += offset * 2 {
				t := scratch[i-offset]
				scratch[i-offset] = scratch[i]
				scratch[i] += t
			}
		}

		for i := 0; i < count; i++ {
			out[base+i] = scratch[i] + in[base+i]
		}
	})
	if err != nil {
		return err
	}

	if numBlocks == 1 {
		return nil
	}

	// Scan the carried block totals and add each block's predecessor
	// total to its elements.
	totals := make([]uint32, numBlocks)
	scannedTotals := make([]uint32, numBlocks)
	_, err = s.device.Exec1D(fmt.Sprintf("prefixSumGatherTotals.%d", level), numBlocks, func(group int) {
		end := (group+1)*blockSize - 1
		if end >= n {
			end = n - 1
		}
		totals[group] = out[end]
	})
	if err != nil {
		return err
	}
	if err = s.scanLevel(totals, scannedTotals, blockSize, level+1); err != nil {
		return err
	}

	_, err = s.device.Exec1D(fmt.Sprintf("prefixSumApplyTotals.%d", level), n-blockSize, func(gid int) {
		i := gid + blockSize
		out[i] += scannedTotals[i/blockSize-1]
	})
	return err
}
