package section

import (
	"fmt"
	"math"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// PGHeader is the part of a process group written after its u64 length field
// and before its variables.
type PGHeader struct {
	IsColumnMajor bool
	Name          string
	TimeStepName  string
	TimeStep      uint32
	// Methods lists the transport method ids.
	Methods []uint8
}

// Write appends the header: [column-major u8][name][coordination u32]
// [time step name][time step u32][methods count u8][methods length u16]
// then [method id u8][params length u16] per method.
func (h PGHeader) Write(b *buffer.Buffer) error {
	if len(h.Methods) > math.MaxUint8 {
		return fmt.Errorf("%w: %d transport methods", errs.ErrInvalidArgument, len(h.Methods))
	}

	b.PutU8(columnMajorByte(h.IsColumnMajor))
	if err := b.PutName(h.Name); err != nil {
		return err
	}
	b.PutU32(0)
	if err := b.PutName(h.TimeStepName); err != nil {
		return err
	}
	b.PutU32(h.TimeStep)
	b.PutU8(uint8(len(h.Methods)))      //nolint:gosec
	b.PutU16(uint16(3 * len(h.Methods))) //nolint:gosec
	for _, m := range h.Methods {
		b.PutU8(m)
		b.PutU16(0)
	}

	return nil
}

// ParsePGHeader decodes a header written by PGHeader.Write.
func ParsePGHeader(c *buffer.Cursor) (PGHeader, error) {
	var h PGHeader

	flag := c.U8()
	h.Name = c.Name()
	c.Skip(4)
	h.TimeStepName = c.Name()
	h.TimeStep = c.U32()
	n := int(c.U8())
	length := int(c.U16())
	if err := c.Err(); err != nil {
		return h, err
	}
	if length != 3*n {
		return h, fmt.Errorf("%w: %d methods in %d bytes", errs.ErrCorruptedRecord, n, length)
	}
	h.Methods = make([]uint8, n)
	for i := range h.Methods {
		h.Methods[i] = c.U8()
		c.Skip(2)
	}
	if err := c.Err(); err != nil {
		return h, err
	}

	isColumnMajor, err := parseColumnMajorByte(flag)
	if err != nil {
		return h, err
	}
	h.IsColumnMajor = isColumnMajor

	return h, nil
}

// VarEntryHeader is the prefix of a variable entry inside a process group.
// It is followed by a KindVariableData characteristic set and the payload.
type VarEntryHeader struct {
	MemberID  uint32
	GroupName string
	Name      string
	Path      string
	DataType  format.DataType
	Dims      []Dimension
}

// Write appends [member id u32][group name][name][path][data type u8] and the
// data dimensions record. The caller owns the u64 entry length placeholder.
func (h VarEntryHeader) Write(b *buffer.Buffer) error {
	b.PutU32(h.MemberID)
	for _, name := range [...]string{h.GroupName, h.Name, h.Path} {
		if err := b.PutName(name); err != nil {
			return err
		}
	}
	b.PutU8(uint8(h.DataType))

	return WriteDataDimensions(b, h.Dims)
}

// ParseVarEntryHeader decodes a header written by VarEntryHeader.Write.
func ParseVarEntryHeader(c *buffer.Cursor) (VarEntryHeader, error) {
	var h VarEntryHeader

	h.MemberID = c.U32()
	h.GroupName = c.Name()
	h.Name = c.Name()
	h.Path = c.Name()
	h.DataType = format.DataType(c.U8())
	if err := c.Err(); err != nil {
		return h, err
	}

	dims, err := ParseDataDimensions(c)
	if err != nil {
		return h, err
	}
	h.Dims = dims

	return h, nil
}

// AttrEntry is an attribute as stored inside a process group:
// [length u32][member id u32][name][path]['n'][data type u8][value].
//
// Numeric values are [byte size u32] followed by the elements, strings are
// [byte size u32] and the bytes, string arrays are [count u32] then one
// [byte size u32][bytes] per element.
type AttrEntry struct {
	MemberID uint32
	Name     string
	Path     string
	DataType format.DataType
	// Value is a scalar, a typed slice, a string or a []string.
	Value any
}

// PayloadOffset returns the offset of the value record, [byte size u32] or
// [count u32], from the start of the entry.
func (e AttrEntry) PayloadOffset() int {
	return 4 + 4 + 2 + len(e.Name) + 2 + len(e.Path) + 1 + 1
}

// Write appends the entry with its u32 length backpatched.
func (e AttrEntry) Write(b *buffer.Buffer) error {
	return b.Record(4, func() error {
		b.PutU32(e.MemberID)
		if err := b.PutName(e.Name); err != nil {
			return err
		}
		if err := b.PutName(e.Path); err != nil {
			return err
		}
		b.PutU8(notVariableRef)
		b.PutU8(uint8(e.DataType))

		return writeAttrValue(b, e.DataType, e.Value)
	})
}

func writeAttrValue(b *buffer.Buffer, dt format.DataType, v any) error {
	switch dt {
	case format.String:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %T for string attribute", errs.ErrTypeMismatch, v)
		}
		b.PutU32(uint32(len(s))) //nolint:gosec
		b.CopyTo([]byte(s))

		return nil
	case format.StringArray:
		ss, ok := v.([]string)
		if !ok {
			return fmt.Errorf("%w: %T for string array attribute", errs.ErrTypeMismatch, v)
		}
		b.PutU32(uint32(len(ss))) //nolint:gosec
		for _, s := range ss {
			b.PutU32(uint32(len(s))) //nolint:gosec
			b.CopyTo([]byte(s))
		}

		return nil
	}

	var out []byte
	var err error
	if encoding.SliceLen(v) >= 0 {
		var got format.DataType
		out, got, err = encoding.AppendAnySlice(b.Engine(), nil, v)
		if err == nil && got != dt {
			err = fmt.Errorf("%w: %s attribute holds %s values", errs.ErrTypeMismatch, dt, got)
		}
	} else {
		out, err = encoding.AppendValue(b.Engine(), nil, dt, v)
	}
	if err != nil {
		return err
	}
	b.PutU32(uint32(len(out))) //nolint:gosec
	b.CopyTo(out)

	return nil
}

// ParseAttrEntry decodes an entry at the cursor position. A numeric value
// holding exactly one element is returned as a scalar.
func ParseAttrEntry(c *buffer.Cursor) (AttrEntry, error) {
	var e AttrEntry

	length := int(c.U32())
	start := c.Pos()
	e.MemberID = c.U32()
	e.Name = c.Name()
	e.Path = c.Name()
	marker := c.U8()
	e.DataType = format.DataType(c.U8())
	if err := c.Err(); err != nil {
		return e, err
	}
	if marker != notVariableRef {
		return e, fmt.Errorf("%w: attribute %q marker %q", errs.ErrCorruptedRecord, e.Name, marker)
	}

	switch e.DataType {
	case format.String:
		e.Value = string(c.Bytes(int(c.U32())))
	case format.StringArray:
		n := int(c.U32())
		if n > c.Remaining() {
			return e, fmt.Errorf("%w: attribute %q of %d strings", errs.ErrCorruptedRecord, e.Name, n)
		}
		ss := make([]string, n)
		for i := range ss {
			ss[i] = string(c.Bytes(int(c.U32())))
		}
		e.Value = ss
	default:
		if err := e.DataType.Validate(); err != nil {
			return e, err
		}
		size := int(c.U32())
		n := size / e.DataType.Size()
		raw := c.Bytes(size)
		if err := c.Err(); err != nil {
			return e, err
		}
		if n == 1 {
			v, err := encoding.ReadValue(buffer.NewCursor(raw, c.Engine()), e.DataType)
			if err != nil {
				return e, err
			}
			e.Value = v
		} else {
			v, err := encoding.DecodeAnySlice(c.Engine(), e.DataType, raw, n)
			if err != nil {
				return e, err
			}
			e.Value = v
		}
	}
	if err := c.Err(); err != nil {
		return e, err
	}
	if c.Pos()-start != length {
		return e, fmt.Errorf("%w: attribute %q length %d, decoded %d bytes", errs.ErrCorruptedRecord, e.Name, length, c.Pos()-start)
	}

	return e, nil
}
