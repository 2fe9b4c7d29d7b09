// Package encoding converts typed element data to and from the byte layout
// used inside BP payloads and characteristics.
//
// # Elements
//
// A variable payload is the elements of one block written back to back in the
// writer's byte order. AppendSlice and DecodeSlice perform that conversion for
// every Numeric type; when the requested byte order matches the host, the
// element memory is copied directly.
//
//	payload := encoding.AppendSlice(engine, nil, []float64{1, 2, 3})
//	out := make([]float64, 3)
//	err := encoding.DecodeSlice(engine, payload, out)
//
// # Values
//
// Single values (the value characteristic of scalars and attributes, and the
// min/max statistics of arrays) are encoded with AppendValue and decoded with
// ReadValue. Strings are u16 length-prefixed; string arrays carry a u32 count.
//
// # Statistics
//
// MinMax scans a block once. Complex values are ordered by modulus, so the
// reported minimum of a complex block is the element closest to the origin.
//
// # Dispatch
//
// The package is the single place where a dynamic value is matched against
// the closed set of element types: AppendAnySlice, MinMaxAny, SliceLen and
// Less each switch over that set once, and every other package calls them.
package encoding
