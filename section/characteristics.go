package section

import (
	"fmt"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// SetKind selects which items a characteristic set carries.
type SetKind uint8

const (
	// KindVariableIndex is a variable set in the metadata index: it carries
	// the file index and both offsets.
	KindVariableIndex SetKind = iota
	// KindVariableData is the set embedded in front of a payload. Offsets are
	// implied by its position and omitted.
	KindVariableData
	// KindAttributeIndex is an attribute set in the metadata index.
	KindAttributeIndex
)

func (k SetKind) hasOffsets() bool {
	return k != KindVariableData
}

func (k SetKind) isAttribute() bool {
	return k == KindAttributeIndex
}

// Transform describes an operator applied to a payload.
type Transform struct {
	Type format.CompressionType
	// PreSize is the payload size before the operator ran.
	PreSize uint64
	// PayloadSize is the stored size.
	PayloadSize uint64
}

// Characteristics is the decoded form of one characteristic set.
type Characteristics struct {
	TimeStep      uint32
	FileIndex     uint32
	Offset        uint64
	PayloadOffset uint64
	// Dims is nil for scalars.
	Dims []Dimension
	// Value holds the value of single-value variables and attributes. For
	// attribute arrays it is a typed slice, or []string for string arrays.
	Value any
	// Min and Max are nil when no statistics were recorded.
	Min, Max  any
	Transform *Transform
}

// WriteCharacteristics appends one characteristic set to b.
//
// The time index is always the first item. File index and offsets are only
// written for index kinds.
//
// Parameters:
//   - b: destination buffer
//   - kind: which item group to write
//   - dt: element type of Value, Min and Max
//   - ch: values to encode
//
// Returns:
//   - error: value encoding failures; the partially written set is rolled back
func WriteCharacteristics(b *buffer.Buffer, kind SetKind, dt format.DataType, ch *Characteristics) error {
	start := b.Position
	countField := b.Reserve(1)
	var count uint8

	err := b.Record(4, func() error {
		item := func(id uint8) {
			b.PutU8(id)
			count++
		}

		item(CharTimeIndex)
		b.PutU32(ch.TimeStep)

		if kind.hasOffsets() {
			item(CharFileIndex)
			b.PutU32(ch.FileIndex)
			item(CharOffset)
			b.PutU64(ch.Offset)
			item(CharPayloadOffset)
			b.PutU64(ch.PayloadOffset)
		}

		if len(ch.Dims) > 0 {
			item(CharDimensions)
			if err := WriteDimensions(b, ch.Dims); err != nil {
				return err
			}
		}

		if ch.Value != nil {
			item(CharValue)
			if err := writeValue(b, kind, dt, ch); err != nil {
				return err
			}
		}

		if ch.Min != nil && ch.Max != nil {
			item(CharMin)
			if err := writeScalar(b, dt, ch.Min); err != nil {
				return err
			}
			item(CharMax)
			if err := writeScalar(b, dt, ch.Max); err != nil {
				return err
			}
		}

		if t := ch.Transform; t != nil {
			item(CharTransformType)
			b.PutU8(uint8(t.Type))
			b.PutU64(t.PreSize)
			b.PutU64(t.PayloadSize)
		}

		return nil
	})
	if err != nil {
		b.Position = start
		return err
	}
	if err := countField.Patch(uint64(count)); err != nil {
		b.Position = start
		return err
	}

	return nil
}

func writeScalar(b *buffer.Buffer, dt format.DataType, v any) error {
	out, err := encoding.AppendValue(b.Engine(), nil, dt, v)
	if err != nil {
		return err
	}
	b.CopyTo(out)

	return nil
}

// writeValue encodes the value item. Numeric attribute arrays are stored as
// bare elements: their count is the local extent of the single dimension.
func writeValue(b *buffer.Buffer, kind SetKind, dt format.DataType, ch *Characteristics) error {
	if !kind.isAttribute() || dt == format.StringArray || encoding.SliceLen(ch.Value) < 0 {
		return writeScalar(b, dt, ch.Value)
	}

	out, got, err := encoding.AppendAnySlice(b.Engine(), nil, ch.Value)
	if err != nil {
		return err
	}
	if got != dt {
		return fmt.Errorf("%w: %s attribute holds %s values", errs.ErrTypeMismatch, dt, got)
	}
	b.CopyTo(out)

	return nil
}

// ParseCharacteristics decodes one characteristic set at the cursor position.
//
// Parameters:
//   - c: cursor positioned at the set's count byte
//   - kind: the kind the set was written with
//   - dt: element type of the owning entry
//
// Returns:
//   - Characteristics: decoded items
//   - error: ErrCorruptedRecord for unknown ids or length mismatches
func ParseCharacteristics(c *buffer.Cursor, kind SetKind, dt format.DataType) (Characteristics, error) {
	var ch Characteristics

	err := forEachItem(c, func(id uint8) error {
		switch id {
		case CharTimeIndex:
			ch.TimeStep = c.U32()
		case CharFileIndex:
			ch.FileIndex = c.U32()
		case CharOffset:
			ch.Offset = c.U64()
		case CharPayloadOffset:
			ch.PayloadOffset = c.U64()
		case CharDimensions:
			dims, err := ParseDimensions(c)
			if err != nil {
				return err
			}
			ch.Dims = dims
		case CharValue:
			v, err := readValue(c, kind, dt, ch.Dims)
			if err != nil {
				return err
			}
			ch.Value = v
		case CharMin, CharMax:
			v, err := encoding.ReadValue(c, dt)
			if err != nil {
				return err
			}
			if id == CharMin {
				ch.Min = v
			} else {
				ch.Max = v
			}
		case CharTransformType:
			ch.Transform = &Transform{
				Type:        format.CompressionType(c.U8()),
				PreSize:     c.U64(),
				PayloadSize: c.U64(),
			}
		default:
			return fmt.Errorf("%w: unknown characteristic id %d", errs.ErrCorruptedRecord, id)
		}

		return c.Err()
	})

	return ch, err
}

func readValue(c *buffer.Cursor, kind SetKind, dt format.DataType, dims []Dimension) (any, error) {
	if !kind.isAttribute() || dt == format.StringArray || len(dims) == 0 {
		return encoding.ReadValue(c, dt)
	}

	n := dims[0].Local
	if err := dt.Validate(); err != nil {
		return nil, err
	}
	if n > uint64(c.Remaining()/dt.Size()) { //nolint:gosec
		return nil, fmt.Errorf("%w: attribute array of %d elements", errs.ErrCorruptedRecord, n)
	}
	size := int(n) * dt.Size() //nolint:gosec

	return encoding.DecodeAnySlice(c.Engine(), dt, c.Bytes(size), int(n)) //nolint:gosec
}

// forEachItem reads the set header and calls fn once per item id. fn must
// consume exactly the item's value. The cursor ends right after the set.
func forEachItem(c *buffer.Cursor, fn func(id uint8) error) error {
	count := int(c.U8())
	length := int(c.U32())
	if err := c.Err(); err != nil {
		return err
	}

	start := c.Pos()
	for i := 0; i < count; i++ {
		id := c.U8()
		if err := c.Err(); err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}

	if consumed := c.Pos() - start; consumed != length {
		return fmt.Errorf("%w: characteristic set length %d, decoded %d bytes", errs.ErrCorruptedRecord, length, consumed)
	}

	return nil
}

// SetSize returns the encoded size of the set at the cursor position, header
// included. The cursor does not move.
func SetSize(c *buffer.Cursor) (int, error) {
	start := c.Pos()
	c.Skip(1)
	length := c.U32()
	if err := c.Err(); err != nil {
		return 0, err
	}
	if uint64(length) > uint64(c.Remaining()) { //nolint:gosec
		return 0, fmt.Errorf("%w: characteristic set length %d exceeds %d remaining bytes", errs.ErrCorruptedRecord, length, c.Remaining())
	}
	c.Seek(start)

	return CharSetHeaderSize + int(length), nil
}

// PeekTimeStep returns the time step of the set at the cursor position
// without moving the cursor.
func PeekTimeStep(c *buffer.Cursor) (uint32, error) {
	start := c.Pos()
	defer c.Seek(start)

	c.Skip(CharSetHeaderSize)
	if id := c.U8(); id != CharTimeIndex && c.Err() == nil {
		return 0, fmt.Errorf("%w: characteristic set starts with id %d", errs.ErrCorruptedRecord, id)
	}
	step := c.U32()

	return step, c.Err()
}

// ShiftOffsets rewrites, in place, the offset and payload offset items of the
// set at the cursor position by adding delta, and sets its file index.
// data must be the slice c decodes. The cursor ends right after the set.
func ShiftOffsets(data []byte, c *buffer.Cursor, kind SetKind, dt format.DataType, delta uint64, fileIndex uint32) error {
	engine := c.Engine()

	var dims []Dimension
	return forEachItem(c, func(id uint8) error {
		pos := c.Pos()
		switch id {
		case CharOffset, CharPayloadOffset:
			v := c.U64()
			if c.Err() == nil {
				engine.PutUint64(data[pos:], v+delta)
			}
		case CharFileIndex:
			c.Skip(4)
			if c.Err() == nil {
				engine.PutUint32(data[pos:], fileIndex)
			}
		case CharDimensions:
			d, err := ParseDimensions(c)
			if err != nil {
				return err
			}
			dims = d
		default:
			return skipItem(c, kind, dt, dims, id)
		}

		return c.Err()
	})
}

func skipItem(c *buffer.Cursor, kind SetKind, dt format.DataType, dims []Dimension, id uint8) error {
	switch id {
	case CharTimeIndex, CharFileIndex:
		c.Skip(4)
	case CharOffset, CharPayloadOffset:
		c.Skip(8)
	case CharDimensions:
		_, err := ParseDimensions(c)
		return err
	case CharValue:
		_, err := readValue(c, kind, dt, dims)
		return err
	case CharMin, CharMax:
		return encoding.SkipValue(c, dt)
	case CharTransformType:
		c.Skip(TransformSize)
	default:
		return fmt.Errorf("%w: unknown characteristic id %d", errs.ErrCorruptedRecord, id)
	}

	return c.Err()
}
