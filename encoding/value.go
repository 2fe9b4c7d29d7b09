package encoding

import (
	"fmt"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// AppendValue appends one typed value as stored in value, min and max
// characteristics.
//
// Numeric values are written with engine at their element width; strings
// are name records (u16 length + bytes).
//
// Parameters:
//   - engine: output byte order
//   - dst: destination slice
//   - dt: declared type of v
//   - v: a Go value whose dynamic type matches dt
//
// Returns:
//   - []byte: dst extended with the encoded value
//   - error: ErrTypeMismatch or ErrUnsupportedType
func AppendValue(engine endian.EndianEngine, dst []byte, dt format.DataType, v any) ([]byte, error) {
	switch dt {
	case format.String:
		s, ok := v.(string)
		if !ok {
			return dst, typeMismatch(dt, v)
		}
		if len(s) > buffer.MaxNameLength {
			return dst, fmt.Errorf("%w: string value of %d bytes", errs.ErrNameTooLong, len(s))
		}
		dst = engine.AppendUint16(dst, uint16(len(s))) //nolint:gosec

		return append(dst, s...), nil
	case format.StringArray:
		ss, ok := v.([]string)
		if !ok {
			return dst, typeMismatch(dt, v)
		}
		dst = engine.AppendUint32(dst, uint32(len(ss))) //nolint:gosec
		for _, s := range ss {
			var err error
			if dst, err = AppendValue(engine, dst, format.String, s); err != nil {
				return dst, err
			}
		}

		return dst, nil
	}

	if k, ok := numericOfScalar(v); ok && k.dataType() == dt {
		return k.appendValue(engine, dst, v), nil
	}

	if err := dt.Validate(); err != nil {
		return dst, err
	}

	return dst, typeMismatch(dt, v)
}

func typeMismatch(dt format.DataType, v any) error {
	return fmt.Errorf("%w: value of type %T for %s", errs.ErrTypeMismatch, v, dt)
}

// ReadValue decodes one value of type dt written by AppendValue.
//
// Returns:
//   - any: the decoded Go value (string, []string or a Numeric scalar)
//   - error: ErrUnsupportedType, or the cursor error for truncated input
func ReadValue(c *buffer.Cursor, dt format.DataType) (any, error) {
	var v any
	switch dt {
	case format.String:
		v = c.Name()
	case format.StringArray:
		n := int(c.U32())
		if n > c.Remaining() {
			return nil, fmt.Errorf("%w: string array of %d entries", errs.ErrCorruptedRecord, n)
		}
		ss := make([]string, 0, n)
		for range n {
			ss = append(ss, c.Name())
		}
		v = ss
	default:
		k, ok := numericOf(dt)
		if !ok {
			return nil, dt.Validate()
		}
		v = k.readValue(c)
	}

	if err := c.Err(); err != nil {
		return nil, err
	}

	return v, nil
}

// SkipValue advances c past one value of type dt without decoding it.
func SkipValue(c *buffer.Cursor, dt format.DataType) error {
	switch dt {
	case format.String:
		c.Skip(int(c.U16()))
	case format.StringArray:
		n := int(c.U32())
		for i := 0; i < n && c.Err() == nil; i++ {
			c.Skip(int(c.U16()))
		}
	default:
		if err := dt.Validate(); err != nil {
			return err
		}
		c.Skip(dt.Size())
	}

	return c.Err()
}
