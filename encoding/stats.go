package encoding

// MinMax returns the smallest and largest element of values.
//
// Complex values are ordered by modulus. NaN elements are skipped; a slice
// holding only NaNs returns its first element for both. The zero values are
// returned for an empty slice.
func MinMax[T Numeric](values []T) (T, T) {
	if len(values) == 0 {
		var zero T
		return zero, zero
	}

	return numericFor[T]().minMaxOf(values)
}

// MinMaxAny computes MinMax over a dynamically typed Numeric slice.
//
// Returns:
//   - min, max: scalar values of the slice element type
//   - ok: false for empty slices and unsupported types
func MinMaxAny(data any) (minV any, maxV any, ok bool) {
	k, ok := numericOfSlice(data)
	if !ok || k.sliceLen(data) == 0 {
		return nil, nil, false
	}
	minV, maxV = k.minMax(data)

	return minV, maxV, true
}

// Less orders two scalar values of the same dynamic type, complex values by
// modulus. Values of different or unsupported types compare as not less.
func Less(a, b any) bool {
	k, ok := numericOfScalar(a)

	return ok && k.less(a, b)
}
