package encoding

import (
	"cmp"
	"math"
	"math/cmplx"
	"reflect"
	"slices"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/format"
)

// kind is the type-erased view of one element type. Every per-type operation
// of this package dispatches through the kind registered for the DataType,
// the slice type or the scalar type at hand.
type kind interface {
	dataType() format.DataType
	sliceLen(data any) int
	window(data any, from, n int) any
	at(data any, i int) any
	set(data any, i int, v any) bool
	makeSlice(n int) any
}

// numericKind adds the byte level and ordering operations of fixed-size
// element types.
type numericKind interface {
	kind
	appendSlice(engine endian.EndianEngine, dst []byte, data any) []byte
	decodeNew(engine endian.EndianEngine, src []byte, n int) (any, error)
	decodeInto(engine endian.EndianEngine, src []byte, data any) error
	minMax(data any) (any, any)
	less(a, b any) bool
	appendValue(engine endian.EndianEngine, dst []byte, v any) []byte
	readValue(c *buffer.Cursor) any
}

type elementKind[T Element] struct {
	dt format.DataType
}

func (k elementKind[T]) dataType() format.DataType { return k.dt }

func (elementKind[T]) sliceLen(data any) int { return len(data.([]T)) } //nolint:forcetypeassert

func (elementKind[T]) window(data any, from, n int) any {
	return data.([]T)[from : from+n] //nolint:forcetypeassert
}

func (elementKind[T]) at(data any, i int) any { return data.([]T)[i] } //nolint:forcetypeassert

func (elementKind[T]) set(data any, i int, v any) bool {
	x, ok := v.(T)
	if ok {
		data.([]T)[i] = x //nolint:forcetypeassert
	}

	return ok
}

func (elementKind[T]) makeSlice(n int) any { return make([]T, n) }

type numeric[T Numeric] struct {
	elementKind[T]
	size   int
	put    func(engine endian.EndianEngine, dst []byte, v T) []byte
	get    func(engine endian.EndianEngine, src []byte) T
	before func(a, b T) bool
}

func (k numeric[T]) appendSlice(engine endian.EndianEngine, dst []byte, data any) []byte {
	return AppendSlice(engine, dst, data.([]T)) //nolint:forcetypeassert
}

func (k numeric[T]) decodeNew(engine endian.EndianEngine, src []byte, n int) (any, error) {
	out := make([]T, n)
	if err := DecodeSlice(engine, src, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (k numeric[T]) decodeInto(engine endian.EndianEngine, src []byte, data any) error {
	return decodeWindow(engine, src, data.([]T)) //nolint:forcetypeassert
}

func (k numeric[T]) minMax(data any) (any, any) {
	return k.minMaxOf(data.([]T)) //nolint:forcetypeassert
}

// minMaxOf skips NaN elements. A slice of NaNs only returns its first
// element twice.
func (k numeric[T]) minMaxOf(vs []T) (T, T) {
	first := slices.IndexFunc(vs, func(v T) bool { return !isNaN(v) })
	if first < 0 {
		return vs[0], vs[0]
	}

	mn, mx := vs[first], vs[first]
	for _, v := range vs[first+1:] {
		if isNaN(v) {
			continue
		}
		if k.before(v, mn) {
			mn = v
		}
		if k.before(mx, v) {
			mx = v
		}
	}

	return mn, mx
}

func (k numeric[T]) less(a, b any) bool {
	x, ok := a.(T)
	if !ok {
		return false
	}
	y, ok := b.(T)

	return ok && k.before(x, y)
}

func (k numeric[T]) appendValue(engine endian.EndianEngine, dst []byte, v any) []byte {
	return k.put(engine, dst, v.(T)) //nolint:forcetypeassert
}

func (k numeric[T]) readValue(c *buffer.Cursor) any {
	b := c.Bytes(k.size)
	if len(b) < k.size {
		var zero T
		return zero
	}

	return k.get(c.Engine(), b)
}

// isNaN reports NaN floats and complex values with a NaN component.
func isNaN[T Numeric](v T) bool {
	return v != v //nolint:gocritic
}

func ordered[T cmp.Ordered](a, b T) bool { return a < b }

func byModulus[T complex64 | complex128](a, b T) bool {
	return cmplx.Abs(complex128(a)) < cmplx.Abs(complex128(b))
}

func put8[T int8 | uint8](_ endian.EndianEngine, dst []byte, v T) []byte { return append(dst, byte(v)) }
func get8[T int8 | uint8](_ endian.EndianEngine, src []byte) T         { return T(src[0]) }

func put16[T int16 | uint16](engine endian.EndianEngine, dst []byte, v T) []byte {
	return engine.AppendUint16(dst, uint16(v)) //nolint:gosec
}

func get16[T int16 | uint16](engine endian.EndianEngine, src []byte) T {
	return T(engine.Uint16(src)) //nolint:gosec
}

func put32[T int32 | uint32](engine endian.EndianEngine, dst []byte, v T) []byte {
	return engine.AppendUint32(dst, uint32(v)) //nolint:gosec
}

func get32[T int32 | uint32](engine endian.EndianEngine, src []byte) T {
	return T(engine.Uint32(src)) //nolint:gosec
}

func put64[T int64 | uint64](engine endian.EndianEngine, dst []byte, v T) []byte {
	return engine.AppendUint64(dst, uint64(v)) //nolint:gosec
}

func get64[T int64 | uint64](engine endian.EndianEngine, src []byte) T {
	return T(engine.Uint64(src)) //nolint:gosec
}

func putFloat32(engine endian.EndianEngine, dst []byte, v float32) []byte {
	return engine.AppendUint32(dst, math.Float32bits(v))
}

func getFloat32(engine endian.EndianEngine, src []byte) float32 {
	return math.Float32frombits(engine.Uint32(src))
}

func putFloat64(engine endian.EndianEngine, dst []byte, v float64) []byte {
	return engine.AppendUint64(dst, math.Float64bits(v))
}

func getFloat64(engine endian.EndianEngine, src []byte) float64 {
	return math.Float64frombits(engine.Uint64(src))
}

func putComplex64(engine endian.EndianEngine, dst []byte, v complex64) []byte {
	return putFloat32(engine, putFloat32(engine, dst, real(v)), imag(v))
}

func getComplex64(engine endian.EndianEngine, src []byte) complex64 {
	return complex(getFloat32(engine, src), getFloat32(engine, src[4:]))
}

func putComplex128(engine endian.EndianEngine, dst []byte, v complex128) []byte {
	return putFloat64(engine, putFloat64(engine, dst, real(v)), imag(v))
}

func getComplex128(engine endian.EndianEngine, src []byte) complex128 {
	return complex(getFloat64(engine, src), getFloat64(engine, src[8:]))
}

type registry struct {
	byDataType map[format.DataType]kind
	bySlice    map[reflect.Type]kind
	byScalar   map[reflect.Type]kind
}

var kinds *registry

func init() {
	kinds = newRegistry()
}

func newRegistry() *registry {
	r := &registry{
		byDataType: make(map[format.DataType]kind),
		bySlice:    make(map[reflect.Type]kind),
		byScalar:   make(map[reflect.Type]kind),
	}

	registerNumeric(r, put8[int8], get8[int8], ordered[int8])
	registerNumeric(r, put16[int16], get16[int16], ordered[int16])
	registerNumeric(r, put32[int32], get32[int32], ordered[int32])
	registerNumeric(r, put64[int64], get64[int64], ordered[int64])
	registerNumeric(r, put8[uint8], get8[uint8], ordered[uint8])
	registerNumeric(r, put16[uint16], get16[uint16], ordered[uint16])
	registerNumeric(r, put32[uint32], get32[uint32], ordered[uint32])
	registerNumeric(r, put64[uint64], get64[uint64], ordered[uint64])
	registerNumeric(r, putFloat32, getFloat32, ordered[float32])
	registerNumeric(r, putFloat64, getFloat64, ordered[float64])
	registerNumeric(r, putComplex64, getComplex64, byModulus[complex64])
	registerNumeric(r, putComplex128, getComplex128, byModulus[complex128])
	register[string](r, elementKind[string]{dt: format.String})

	return r
}

func register[T Element](r *registry, k kind) {
	r.byDataType[k.dataType()] = k
	r.bySlice[reflect.TypeFor[[]T]()] = k
	r.byScalar[reflect.TypeFor[T]()] = k
}

func registerNumeric[T Numeric](r *registry,
	put func(endian.EndianEngine, []byte, T) []byte,
	get func(endian.EndianEngine, []byte) T,
	before func(a, b T) bool,
) {
	dt := format.DataTypeOf[T]()
	register[T](r, numeric[T]{
		elementKind: elementKind[T]{dt: dt},
		size:        dt.Size(),
		put:         put,
		get:         get,
		before:      before,
	})
}

// kindOfSlice returns the kind of a supported slice.
func kindOfSlice(data any) (kind, bool) {
	k, ok := kinds.bySlice[reflect.TypeOf(data)]
	return k, ok
}

// numericOfSlice returns the kind of a Numeric slice.
func numericOfSlice(data any) (numericKind, bool) {
	k, ok := kinds.bySlice[reflect.TypeOf(data)]
	if !ok {
		return nil, false
	}
	n, ok := k.(numericKind)

	return n, ok
}

// numericOfScalar returns the kind of a Numeric scalar.
func numericOfScalar(v any) (numericKind, bool) {
	k, ok := kinds.byScalar[reflect.TypeOf(v)]
	if !ok {
		return nil, false
	}
	n, ok := k.(numericKind)

	return n, ok
}

// numericOf returns the kind registered for a fixed-size DataType.
func numericOf(dt format.DataType) (numericKind, bool) {
	k, ok := kinds.byDataType[dt]
	if !ok {
		return nil, false
	}
	n, ok := k.(numericKind)

	return n, ok
}

// numericFor returns the kind of T. Every Numeric type is registered.
func numericFor[T Numeric]() numeric[T] {
	return kinds.byScalar[reflect.TypeFor[T]()].(numeric[T]) //nolint:forcetypeassert
}

// DataTypeOfSlice returns the DataType of the elements of a supported
// slice, or format.Unknown.
func DataTypeOfSlice(data any) format.DataType {
	if k, ok := kindOfSlice(data); ok {
		return k.dataType()
	}

	return format.Unknown
}
