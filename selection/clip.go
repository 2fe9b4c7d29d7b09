package selection

import (
	"fmt"

	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/errs"
)

// ClipContiguousMemory copies the elements of inter from a block into the
// destination selection.
//
// When inter is a contiguous run in both the block and the destination a
// single copy is made; otherwise one copy per row of the fastest axis.
//
// Parameters:
//   - dst: destination memory laid out as dstBox
//   - dstBox: region covered by dst
//   - src: block memory laid out as srcBox
//   - srcBox: region covered by src
//   - inter: region to copy, inside both boxes
//   - elemSize: element size in bytes
//   - rowMajor: layout of both buffers
//
// Returns:
//   - error: ErrInvalidSelection when a buffer is too small for its box
func ClipContiguousMemory(dst []byte, dstBox core.Box, src []byte, srcBox core.Box, inter core.Box, elemSize int, rowMajor bool) error {
	if err := checkSize("destination", dst, dstBox, elemSize); err != nil {
		return err
	}
	if err := checkSize("source", src, srcBox, elemSize); err != nil {
		return err
	}
	if len(inter.Start) == 0 {
		copy(dst[:elemSize], src[:elemSize])
		return nil
	}

	if IsContiguousSubarray(srcBox, inter, rowMajor) && IsContiguousSubarray(dstBox, inter, rowMajor) {
		n := int(inter.Elements()) * elemSize //nolint:gosec
		s := int(LinearIndex(srcBox, inter.Start, rowMajor)) * elemSize //nolint:gosec
		d := int(LinearIndex(dstBox, inter.Start, rowMajor)) * elemSize //nolint:gosec
		copy(dst[d:d+n], src[s:s+n])

		return nil
	}

	if rowMajor {
		clipRowMajor(dst, dstBox, src, srcBox, inter, elemSize)
	} else {
		clipColumnMajor(dst, dstBox, src, srcBox, inter, elemSize)
	}

	return nil
}

func clipRowMajor(dst []byte, dstBox core.Box, src []byte, srcBox core.Box, inter core.Box, elemSize int) {
	n := len(inter.Start)
	fast := n - 1
	rowBytes := int(inter.End[fast]-inter.Start[fast]) * elemSize //nolint:gosec

	point := inter.Start.Clone()
	for {
		s := int(LinearIndex(srcBox, point, true)) * elemSize //nolint:gosec
		d := int(LinearIndex(dstBox, point, true)) * elemSize //nolint:gosec
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])

		// advance the slower axes like an odometer, last slow axis first
		i := fast - 1
		for ; i >= 0; i-- {
			point[i]++
			if point[i] < inter.End[i] {
				break
			}
			point[i] = inter.Start[i]
		}
		if i < 0 {
			return
		}
	}
}

func clipColumnMajor(dst []byte, dstBox core.Box, src []byte, srcBox core.Box, inter core.Box, elemSize int) {
	n := len(inter.Start)
	rowBytes := int(inter.End[0]-inter.Start[0]) * elemSize //nolint:gosec

	point := inter.Start.Clone()
	for {
		s := int(LinearIndex(srcBox, point, false)) * elemSize //nolint:gosec
		d := int(LinearIndex(dstBox, point, false)) * elemSize //nolint:gosec
		copy(dst[d:d+rowBytes], src[s:s+rowBytes])

		i := 1
		for ; i < n; i++ {
			point[i]++
			if point[i] < inter.End[i] {
				break
			}
			point[i] = inter.Start[i]
		}
		if i >= n {
			return
		}
	}
}

// CopyToContiguous packs the selection of a larger memory region into a
// contiguous buffer. It is the write-side counterpart of ClipContiguousMemory
// used for Puts with a memory selection.
//
// Parameters:
//   - dst: receives count elements, contiguous
//   - src: memory laid out with extents memCount
//   - memStart: offset of the selection inside src
//   - memCount: extents of src
//   - count: extents of the selection
func CopyToContiguous(dst, src []byte, memStart, memCount, count core.Dims, elemSize int, rowMajor bool) error {
	memBox := core.NewBox(nil, memCount)
	sel := core.NewBox(memStart, count)
	dstBox := core.Box{Start: sel.Start, End: sel.End}

	return ClipContiguousMemory(dst, dstBox, src, memBox, sel, elemSize, rowMajor)
}

func checkSize(what string, b []byte, box core.Box, elemSize int) error {
	need := box.Elements() * uint64(elemSize) //nolint:gosec
	if uint64(len(b)) < need {
		return fmt.Errorf("%w: %s holds %d bytes, box %s needs %d", errs.ErrInvalidSelection, what, len(b), box, need)
	}

	return nil
}
