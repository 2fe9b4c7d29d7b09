package core

import (
	"fmt"

	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// BlockInfo binds a variable to one memory buffer and one selection for the
// duration of a single Put or Get.
type BlockInfo struct {
	// Data is a []T matching the variable type. Single values are passed as
	// a one-element slice.
	Data any

	Shape Dims
	Start Dims
	Count Dims

	// MemoryStart and MemoryCount describe Data when it is larger than the
	// selection. Both are nil for a contiguous buffer.
	MemoryStart Dims
	MemoryCount Dims

	StepsStart int
	StepsCount int
	BlockID    int
	HasBlockID bool

	Operations []Operation
}

// Elements returns the number of elements of the selection for one step.
func (b *BlockInfo) Elements() uint64 {
	return b.Count.Product()
}

// HasMemorySelection reports whether Data is a strided view.
func (b *BlockInfo) HasMemorySelection() bool {
	return len(b.MemoryCount) > 0
}

// Validate checks that Data holds elements of dt and is large enough for
// steps steps of the selection.
func (b *BlockInfo) Validate(name string, dt format.DataType, steps int) error {
	n := encoding.SliceLen(b.Data)
	if n < 0 {
		return fmt.Errorf("%w: variable %q data of type %T", errs.ErrTypeMismatch, name, b.Data)
	}
	if got := encoding.DataTypeOfSlice(b.Data); got != dt {
		return fmt.Errorf("%w: variable %q is %s, data is %T", errs.ErrTypeMismatch, name, dt, b.Data)
	}

	need := b.Elements()
	if b.HasMemorySelection() {
		need = b.MemoryCount.Product()
	}
	need *= uint64(max(steps, 1)) //nolint:gosec
	if uint64(n) < need { //nolint:gosec
		return fmt.Errorf("%w: variable %q needs %d elements, buffer holds %d", errs.ErrInvalidSelection, name, need, n)
	}

	return nil
}
