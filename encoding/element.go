package encoding

import (
	"fmt"
	"unsafe"

	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// Numeric is the set of fixed-size element types a variable can hold.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float32 | float64 | complex64 | complex128
}

// Element is every type a variable can be defined with.
type Element interface {
	Numeric | string
}

// AppendSlice appends the encoding of src to dst using engine.
//
// When engine matches the host byte order the element memory is copied
// directly; otherwise every element is written through the engine.
//
// Parameters:
//   - engine: output byte order
//   - dst: destination slice, may be nil
//   - src: elements to encode
//
// Returns:
//   - []byte: dst extended by len(src) * element size bytes
func AppendSlice[T Numeric](engine endian.EndianEngine, dst []byte, src []T) []byte {
	if len(src) == 0 {
		return dst
	}

	if endian.CompareNativeEndian(engine) {
		var zero T
		size := int(unsafe.Sizeof(zero))
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), len(src)*size)

		return append(dst, raw...)
	}

	k := numericFor[T]()
	for _, v := range src {
		dst = k.put(engine, dst, v)
	}

	return dst
}

// DecodeSlice decodes len(dst) elements from src using engine.
//
// Returns:
//   - error: ErrBufferTooShort when src holds fewer than len(dst) elements
func DecodeSlice[T Numeric](engine endian.EndianEngine, src []byte, dst []T) error {
	if len(dst) == 0 {
		return nil
	}

	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(src) < len(dst)*size {
		return fmt.Errorf("%w: %d bytes for %d elements of %d bytes", errs.ErrBufferTooShort, len(src), len(dst), size)
	}

	if endian.CompareNativeEndian(engine) {
		raw := unsafe.Slice((*byte)(unsafe.Pointer(&dst[0])), len(dst)*size)
		copy(raw, src)

		return nil
	}

	k := numericFor[T]()
	for i := range dst {
		dst[i] = k.get(engine, src[i*size:])
	}

	return nil
}

// AppendAnySlice encodes data, which must be a slice of a Numeric type.
//
// Returns:
//   - []byte: dst extended with the encoded elements
//   - format.DataType: type of the elements
//   - error: ErrUnsupportedType for any other dynamic type
func AppendAnySlice(engine endian.EndianEngine, dst []byte, data any) ([]byte, format.DataType, error) {
	k, ok := numericOfSlice(data)
	if !ok {
		return dst, format.Unknown, fmt.Errorf("%w: %T", errs.ErrUnsupportedType, data)
	}

	return k.appendSlice(engine, dst, data), k.dataType(), nil
}

// SliceLen returns the number of elements of a supported slice, or -1.
func SliceLen(data any) int {
	k, ok := kindOfSlice(data)
	if !ok {
		return -1
	}

	return k.sliceLen(data)
}

// DecodeAnySlice decodes n elements of type dt from src into a new typed slice.
//
// Returns:
//   - any: a []T matching dt
//   - error: ErrUnsupportedType for non-numeric types, ErrBufferTooShort for short input
func DecodeAnySlice(engine endian.EndianEngine, dt format.DataType, src []byte, n int) (any, error) {
	k, ok := numericOf(dt)
	if !ok {
		return nil, fmt.Errorf("%w: cannot decode %s elements", errs.ErrUnsupportedType, dt)
	}

	return k.decodeNew(engine, src, n)
}

// MakeSlice returns a zeroed []T of n elements for type dt.
func MakeSlice(dt format.DataType, n int) (any, error) {
	k, ok := kinds.byDataType[dt]
	if !ok {
		return nil, fmt.Errorf("%w: cannot allocate %s elements", errs.ErrUnsupportedType, dt)
	}

	return k.makeSlice(n), nil
}

// SliceWindow returns data[from:from+n] for a supported slice type, sharing
// the underlying array.
//
// Returns:
//   - any: a slice of the same dynamic type
//   - error: ErrUnsupportedType for other types, ErrInvalidArgument when the window is out of range
func SliceWindow(data any, from, n int) (any, error) {
	k, ok := kindOfSlice(data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errs.ErrUnsupportedType, data)
	}
	if l := k.sliceLen(data); from < 0 || n < 0 || from+n > l {
		return nil, fmt.Errorf("%w: window %d+%d of %d elements", errs.ErrInvalidArgument, from, n, l)
	}

	return k.window(data, from, n), nil
}

// ElementAt returns data[i] of a supported slice as a scalar.
func ElementAt(data any, i int) (any, error) {
	k, ok := kindOfSlice(data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errs.ErrUnsupportedType, data)
	}
	if l := k.sliceLen(data); i < 0 || i >= l {
		return nil, fmt.Errorf("%w: index %d of %d elements", errs.ErrInvalidArgument, i, l)
	}

	return k.at(data, i), nil
}

// DecodeInto decodes src into data, a slice of a Numeric type, filling as
// many elements as src holds.
//
// Returns:
//   - error: ErrUnsupportedType for other types, ErrBufferTooShort when data
//     cannot hold src
func DecodeInto(engine endian.EndianEngine, src []byte, data any) error {
	k, ok := numericOfSlice(data)
	if !ok {
		return fmt.Errorf("%w: cannot decode into %T", errs.ErrUnsupportedType, data)
	}

	return k.decodeInto(engine, src, data)
}

func decodeWindow[T Numeric](engine endian.EndianEngine, src []byte, dst []T) error {
	var zero T
	n := len(src) / int(unsafe.Sizeof(zero))
	if n > len(dst) {
		return fmt.Errorf("%w: %d elements into %d", errs.ErrBufferTooShort, n, len(dst))
	}

	return DecodeSlice(engine, src, dst[:n])
}

// SetElement stores the scalar v at data[i]. v must have the element type
// of data.
//
// Returns:
//   - error: ErrTypeMismatch when v does not match, ErrInvalidArgument when
//     i is out of range
func SetElement(data any, i int, v any) error {
	if i < 0 || i >= SliceLen(data) {
		return fmt.Errorf("%w: index %d of %d elements", errs.ErrInvalidArgument, i, SliceLen(data))
	}

	k, _ := kindOfSlice(data)
	if !k.set(data, i, v) {
		return fmt.Errorf("%w: %T into %T", errs.ErrTypeMismatch, v, data)
	}

	return nil
}
