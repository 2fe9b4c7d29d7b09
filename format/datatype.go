package format

import (
	"fmt"

	"github.com/arloliu/bpio/errs"
)

// DataType is the closed set of element types understood by the BP layout.
//
// The numeric values are the on-disk type codes and must never change. The
// registry answers three questions identically for writers and readers:
// element size, component size (for byte reversal) and the type tag string.
type DataType uint8

const (
	Int8              DataType = 0
	Int16             DataType = 1
	Int32             DataType = 2
	Int64             DataType = 4
	Float32           DataType = 5
	Float64           DataType = 6
	LongDouble        DataType = 7 // not representable in Go; always unsupported
	String            DataType = 9
	Complex64         DataType = 10
	Complex128        DataType = 11
	StringArray       DataType = 12 // attributes only
	LongDoubleComplex DataType = 13 // not representable in Go; always unsupported
	Uint8             DataType = 50
	Uint16            DataType = 51
	Uint32            DataType = 52
	Uint64            DataType = 54

	// Unknown is the invalid sentinel. Encountering it while merging or
	// parsing metadata is a hard error.
	Unknown DataType = 0xFF
)

type typeInfo struct {
	size      int
	component int
	tag       string
}

var registry = map[DataType]typeInfo{
	Int8:        {1, 1, "int8_t"},
	Int16:       {2, 2, "int16_t"},
	Int32:       {4, 4, "int32_t"},
	Int64:       {8, 8, "int64_t"},
	Uint8:       {1, 1, "uint8_t"},
	Uint16:      {2, 2, "uint16_t"},
	Uint32:      {4, 4, "uint32_t"},
	Uint64:      {8, 8, "uint64_t"},
	Float32:     {4, 4, "float"},
	Float64:     {8, 8, "double"},
	Complex64:   {8, 4, "float complex"},
	Complex128:  {16, 8, "double complex"},
	String:      {1, 1, "string"},
	StringArray: {1, 1, "string array"},
}

// IsSupported reports whether t is a member of the registry.
func (t DataType) IsSupported() bool {
	_, ok := registry[t]
	return ok
}

// Validate returns ErrUnsupportedType when t is not in the registry.
func (t DataType) Validate() error {
	if !t.IsSupported() {
		return fmt.Errorf("%w: type code %d", errs.ErrUnsupportedType, uint8(t))
	}

	return nil
}

// Size returns the element size in bytes, or 0 for unsupported types.
// String types report 1: their payload is a length-prefixed byte sequence.
func (t DataType) Size() int {
	return registry[t].size
}

// ComponentSize returns the width used for byte reversal: the element size
// for scalars, the size of one part for complex numbers.
func (t DataType) ComponentSize() int {
	return registry[t].component
}

// IsNumeric reports whether t carries fixed-size numeric elements.
func (t DataType) IsNumeric() bool {
	return t.IsSupported() && t != String && t != StringArray
}

// IsComplex reports whether t is a complex type.
func (t DataType) IsComplex() bool {
	return t == Complex64 || t == Complex128
}

// IsString reports whether t is a string or string array.
func (t DataType) IsString() bool {
	return t == String || t == StringArray
}

// String returns the type tag used in listings and bindings.
func (t DataType) String() string {
	if info, ok := registry[t]; ok {
		return info.tag
	}

	switch t {
	case LongDouble:
		return "long double"
	case LongDoubleComplex:
		return "long double complex"
	default:
		return "unknown"
	}
}

// ParseDataType maps a type tag back to its DataType.
//
// Parameters:
//   - tag: type tag as returned by DataType.String
//
// Returns:
//   - DataType: matching type
//   - error: ErrUnsupportedType for unknown tags
func ParseDataType(tag string) (DataType, error) {
	for t, info := range registry {
		if info.tag == tag {
			return t, nil
		}
	}

	return Unknown, fmt.Errorf("%w: %q", errs.ErrUnsupportedType, tag)
}

// DataTypeOf returns the DataType for the Go type T, or Unknown.
func DataTypeOf[T any]() DataType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	case string:
		return String
	default:
		return Unknown
	}
}
