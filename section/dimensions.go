package section

import (
	"fmt"
	"math"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/errs"
)

// Dimension is one axis of a block: its local count, the global shape and
// the block's global start.
type Dimension struct {
	Local  uint64
	Global uint64
	Offset uint64
}

// MakeDimensions zips count, shape and start into dimension triplets.
// shape and start may be empty for local blocks; count decides the rank.
func MakeDimensions(count, shape, start []uint64) []Dimension {
	if len(count) == 0 {
		return nil
	}

	dims := make([]Dimension, len(count))
	for i := range count {
		dims[i].Local = count[i]
		if i < len(shape) {
			dims[i].Global = shape[i]
		}
		if i < len(start) {
			dims[i].Offset = start[i]
		}
	}

	return dims
}

// SplitDimensions returns the count, shape and start of dims. Shape and start
// are nil when every global extent is zero.
func SplitDimensions(dims []Dimension) (count, shape, start []uint64) {
	if len(dims) == 0 {
		return nil, nil, nil
	}

	count = make([]uint64, len(dims))
	global := false
	for i, d := range dims {
		count[i] = d.Local
		if d.Global != 0 {
			global = true
		}
	}
	if !global {
		return count, nil, nil
	}

	shape = make([]uint64, len(dims))
	start = make([]uint64, len(dims))
	for i, d := range dims {
		shape[i] = d.Global
		start[i] = d.Offset
	}

	return count, shape, start
}

// WriteDimensions writes a dimensions record as stored in characteristics:
// [count u8][length u16] then local, global, offset per axis.
func WriteDimensions(b *buffer.Buffer, dims []Dimension) error {
	if len(dims) > math.MaxUint8 {
		return fmt.Errorf("%w: %d dimensions", errs.ErrInvalidArgument, len(dims))
	}

	b.PutU8(uint8(len(dims))) //nolint:gosec
	b.PutU16(uint16(len(dims) * DimensionSize)) //nolint:gosec
	for _, d := range dims {
		b.PutU64(d.Local)
		b.PutU64(d.Global)
		b.PutU64(d.Offset)
	}

	return nil
}

// ParseDimensions decodes a record written by WriteDimensions.
func ParseDimensions(c *buffer.Cursor) ([]Dimension, error) {
	n := int(c.U8())
	length := int(c.U16())
	if err := c.Err(); err != nil {
		return nil, err
	}
	if length != n*DimensionSize {
		return nil, fmt.Errorf("%w: %d dimensions in %d bytes", errs.ErrCorruptedRecord, n, length)
	}

	dims := make([]Dimension, n)
	for i := range dims {
		dims[i].Local = c.U64()
		dims[i].Global = c.U64()
		dims[i].Offset = c.U64()
	}

	return dims, c.Err()
}

// WriteDataDimensions writes a dimensions record as stored in front of a
// payload, where every value is prefixed with the literal marker 'n'.
func WriteDataDimensions(b *buffer.Buffer, dims []Dimension) error {
	if len(dims) > math.MaxUint8 {
		return fmt.Errorf("%w: %d dimensions", errs.ErrInvalidArgument, len(dims))
	}

	b.PutU8(uint8(len(dims))) //nolint:gosec
	b.PutU16(uint16(len(dims) * DataDimensionSize)) //nolint:gosec
	for _, d := range dims {
		for _, v := range [3]uint64{d.Local, d.Global, d.Offset} {
			b.PutU8(notVariableRef)
			b.PutU64(v)
		}
	}

	return nil
}

// ParseDataDimensions decodes a record written by WriteDataDimensions.
func ParseDataDimensions(c *buffer.Cursor) ([]Dimension, error) {
	n := int(c.U8())
	length := int(c.U16())
	if err := c.Err(); err != nil {
		return nil, err
	}
	if length != n*DataDimensionSize {
		return nil, fmt.Errorf("%w: %d data dimensions in %d bytes", errs.ErrCorruptedRecord, n, length)
	}

	dims := make([]Dimension, n)
	for i := range dims {
		var v [3]uint64
		for j := range v {
			if marker := c.U8(); marker != notVariableRef && c.Err() == nil {
				return nil, fmt.Errorf("%w: dimension marker %q", errs.ErrCorruptedRecord, marker)
			}
			v[j] = c.U64()
		}
		dims[i] = Dimension{Local: v[0], Global: v[1], Offset: v[2]}
	}

	return dims, c.Err()
}
