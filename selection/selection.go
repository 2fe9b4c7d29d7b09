// Package selection implements the box algebra used to map a read or write
// selection onto stored blocks: intersection, linear indexing, the
// contiguity test and the strided copies between block and selection memory.
//
// Every box has an exclusive End. Row-major layouts vary the last axis
// fastest; column-major layouts vary the first axis fastest.
package selection

import (
	"github.com/arloliu/bpio/core"
)

// Intersection returns the overlap of a and b.
//
// Returns:
//   - core.Box: the overlapping region
//   - bool: false when the boxes differ in rank or do not overlap
func Intersection(a, b core.Box) (core.Box, bool) {
	if len(a.Start) != len(b.Start) {
		return core.Box{}, false
	}

	out := core.Box{Start: make(core.Dims, len(a.Start)), End: make(core.Dims, len(a.Start))}
	for i := range a.Start {
		out.Start[i] = max(a.Start[i], b.Start[i])
		out.End[i] = min(a.End[i], b.End[i])
		if out.End[i] <= out.Start[i] {
			return core.Box{}, false
		}
	}

	return out, true
}

// LinearIndex returns the element index of point inside box.
//
// Parameters:
//   - box: region whose elements are laid out contiguously
//   - point: global coordinates inside box
//   - rowMajor: layout of the box elements
func LinearIndex(box core.Box, point core.Dims, rowMajor bool) uint64 {
	n := len(box.Start)
	var index, stride uint64 = 0, 1
	for k := range n {
		i := k
		if rowMajor {
			i = n - 1 - k
		}
		index += (point[i] - box.Start[i]) * stride
		stride *= box.End[i] - box.Start[i]
	}

	return index
}

// IsContiguousSubarray reports whether the elements of inner form one
// contiguous run inside the layout of outer.
//
// Walking from the fastest axis, inner must span outer completely until the
// first partial axis; every slower axis must then have extent 1.
func IsContiguousSubarray(outer, inner core.Box, rowMajor bool) bool {
	n := len(outer.Start)
	partial := false
	for k := range n {
		i := k
		if rowMajor {
			i = n - 1 - k
		}
		innerCount := inner.End[i] - inner.Start[i]
		if partial {
			if innerCount != 1 {
				return false
			}
			continue
		}
		if innerCount != outer.End[i]-outer.Start[i] {
			partial = true
		}
	}

	return true
}

// IsIntersectionContiguousSubarray reports whether the intersection of a
// request with a block is contiguous in the block, and returns the byte
// offset of its first element inside the block payload.
func IsIntersectionContiguousSubarray(block, inter core.Box, rowMajor bool, elemSize int) (bool, uint64) {
	if !IsContiguousSubarray(block, inter, rowMajor) {
		return false, 0
	}

	return true, LinearIndex(block, inter.Start, rowMajor) * uint64(elemSize) //nolint:gosec
}
