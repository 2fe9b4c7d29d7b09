package core

import (
	"slices"
	"strconv"
	"strings"
)

// Dims holds per-axis extents. An empty Dims describes a scalar.
type Dims []uint64

// Product returns the number of elements described by d, 1 for a scalar.
func (d Dims) Product() uint64 {
	p := uint64(1)
	for _, v := range d {
		p *= v
	}

	return p
}

// Equal reports whether d and o have the same extents.
func (d Dims) Equal(o Dims) bool {
	return slices.Equal(d, o)
}

// Clone returns a copy of d; nil stays nil.
func (d Dims) Clone() Dims {
	return slices.Clone(d)
}

// Reversed returns d with its axes in reverse order. It converts dimensions
// between row-major and column-major hosts.
func (d Dims) Reversed() Dims {
	if d == nil {
		return nil
	}
	r := slices.Clone(d)
	slices.Reverse(r)

	return r
}

// IsZero reports whether any extent is zero.
func (d Dims) IsZero() bool {
	return slices.Contains(d, 0)
}

func (d Dims) String() string {
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = strconv.FormatUint(v, 10)
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

// Box is an axis-aligned region. End is exclusive on every axis.
type Box struct {
	Start Dims
	End   Dims
}

// NewBox returns the box starting at start with count elements per axis.
func NewBox(start, count Dims) Box {
	end := make(Dims, len(count))
	for i := range count {
		var s uint64
		if i < len(start) {
			s = start[i]
		}
		end[i] = s + count[i]
	}
	if len(start) == 0 {
		start = make(Dims, len(count))
	}

	return Box{Start: start.Clone(), End: end}
}

// Count returns the per-axis extent of the box.
func (b Box) Count() Dims {
	count := make(Dims, len(b.Start))
	for i := range b.Start {
		count[i] = b.End[i] - b.Start[i]
	}

	return count
}

// Elements returns the number of elements in the box.
func (b Box) Elements() uint64 {
	return b.Count().Product()
}

// IsEmpty reports whether the box holds no element.
func (b Box) IsEmpty() bool {
	for i := range b.Start {
		if b.End[i] <= b.Start[i] {
			return true
		}
	}

	return false
}

// Reversed returns the box with its axes reversed.
func (b Box) Reversed() Box {
	return Box{Start: b.Start.Reversed(), End: b.End.Reversed()}
}

func (b Box) String() string {
	return b.Start.String() + "-" + b.End.String()
}
