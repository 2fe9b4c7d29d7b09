package selection

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/errs"
)

// grid encodes a 2-D box as uint32 elements in the given layout, each
// element holding row*width+column of its global position.
func grid(box core.Box, width uint64, rowMajor bool) []byte {
	out := make([]byte, box.Elements()*4)
	count := box.Count()
	point := box.Start.Clone()
	for i := uint64(0); i < box.Elements(); i++ {
		rem := i
		if rowMajor {
			for a := len(count) - 1; a >= 0; a-- {
				point[a] = box.Start[a] + rem%count[a]
				rem /= count[a]
			}
		} else {
			for a := range count {
				point[a] = box.Start[a] + rem%count[a]
				rem /= count[a]
			}
		}
		binary.LittleEndian.PutUint32(out[i*4:], uint32(point[0]*width+point[1]))
	}

	return out
}

func values(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}

	return out
}

func TestIntersection(t *testing.T) {
	a := core.NewBox(core.Dims{0, 0}, core.Dims{4, 4})
	b := core.NewBox(core.Dims{2, 3}, core.Dims{4, 4})

	got, ok := Intersection(a, b)
	require.True(t, ok)
	require.Equal(t, core.Dims{2, 3}, got.Start)
	require.Equal(t, core.Dims{4, 4}, got.End)

	t.Run("touching boxes do not overlap", func(t *testing.T) {
		_, ok := Intersection(a, core.NewBox(core.Dims{4, 0}, core.Dims{2, 2}))
		require.False(t, ok)
	})

	t.Run("rank mismatch", func(t *testing.T) {
		_, ok := Intersection(a, core.NewBox(core.Dims{0}, core.Dims{2}))
		require.False(t, ok)
	})

	t.Run("symmetric", func(t *testing.T) {
		got2, ok := Intersection(b, a)
		require.True(t, ok)
		require.Equal(t, got, got2)
	})
}

func TestLinearIndex(t *testing.T) {
	box := core.NewBox(core.Dims{10, 20}, core.Dims{3, 5})

	require.Equal(t, uint64(0), LinearIndex(box, core.Dims{10, 20}, true))
	require.Equal(t, uint64(7), LinearIndex(box, core.Dims{11, 22}, true))
	require.Equal(t, uint64(7), LinearIndex(box, core.Dims{11, 22}, false)) // 1 + 2*3
	require.Equal(t, uint64(14), LinearIndex(box, core.Dims{12, 24}, true))
	require.Equal(t, uint64(14), LinearIndex(box, core.Dims{12, 24}, false))
}

func TestIsContiguousSubarray(t *testing.T) {
	block := core.NewBox(core.Dims{0, 0, 0}, core.Dims{4, 5, 6})

	tests := []struct {
		name     string
		inner    core.Box
		rowMajor bool
		want     bool
	}{
		{"whole block", block, true, true},
		{"full rows", core.NewBox(core.Dims{1, 0, 0}, core.Dims{2, 5, 6}), true, true},
		{"partial last axis single row", core.NewBox(core.Dims{1, 2, 1}, core.Dims{1, 1, 3}), true, true},
		{"partial last axis two rows", core.NewBox(core.Dims{1, 2, 1}, core.Dims{1, 2, 3}), true, false},
		{"partial middle axis", core.NewBox(core.Dims{1, 1, 0}, core.Dims{1, 3, 6}), true, true},
		{"partial middle axis two planes", core.NewBox(core.Dims{1, 1, 0}, core.Dims{2, 3, 6}), true, false},
		{"column-major full first axes", core.NewBox(core.Dims{0, 0, 2}, core.Dims{4, 5, 2}), false, true},
		{"column-major partial first axis", core.NewBox(core.Dims{1, 0, 0}, core.Dims{2, 2, 1}), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsContiguousSubarray(block, tt.inner, tt.rowMajor))
		})
	}
}

func TestIsIntersectionContiguousSubarray(t *testing.T) {
	block := core.NewBox(core.Dims{0, 10}, core.Dims{4, 8})

	ok, offset := IsIntersectionContiguousSubarray(block, core.NewBox(core.Dims{2, 10}, core.Dims{2, 8}), true, 8)
	require.True(t, ok)
	require.Equal(t, uint64(2*8*8), offset)

	ok, offset = IsIntersectionContiguousSubarray(block, core.NewBox(core.Dims{1, 12}, core.Dims{1, 3}), true, 4)
	require.True(t, ok)
	require.Equal(t, uint64((8+2)*4), offset)

	ok, _ = IsIntersectionContiguousSubarray(block, core.NewBox(core.Dims{1, 12}, core.Dims{2, 3}), true, 4)
	require.False(t, ok)
}

func TestClipContiguousMemory(t *testing.T) {
	const width = 100

	t.Run("row-major strided", func(t *testing.T) {
		block := core.NewBox(core.Dims{0, 0}, core.Dims{4, 6})
		sel := core.NewBox(core.Dims{1, 2}, core.Dims{4, 6})
		inter, ok := Intersection(block, sel)
		require.True(t, ok)

		dst := make([]byte, sel.Elements()*4)
		require.NoError(t, ClipContiguousMemory(dst, sel, grid(block, width, true), block, inter, 4, true))

		got := values(dst)
		// selection rows 1..3 of the block hold columns 2..5, at selection columns 0..3
		require.Equal(t, []uint32{102, 103, 104, 105, 0, 0}, got[0:6])
		require.Equal(t, []uint32{302, 303, 304, 305, 0, 0}, got[12:18])
		require.Equal(t, []uint32{0, 0, 0, 0, 0, 0}, got[18:24])
	})

	t.Run("row-major contiguous single copy", func(t *testing.T) {
		block := core.NewBox(core.Dims{2, 0}, core.Dims{2, 5})
		sel := core.NewBox(core.Dims{0, 0}, core.Dims{6, 5})
		inter, ok := Intersection(block, sel)
		require.True(t, ok)

		dst := make([]byte, sel.Elements()*4)
		require.NoError(t, ClipContiguousMemory(dst, sel, grid(block, width, true), block, inter, 4, true))
		require.Equal(t, values(grid(block, width, true)), values(dst)[10:20])
	})

	t.Run("column-major matches row-major of reversed dims", func(t *testing.T) {
		block := core.NewBox(core.Dims{0, 0}, core.Dims{5, 3})
		sel := core.NewBox(core.Dims{1, 1}, core.Dims{3, 2})
		inter, ok := Intersection(block, sel)
		require.True(t, ok)

		dst := make([]byte, sel.Elements()*4)
		require.NoError(t, ClipContiguousMemory(dst, sel, grid(block, width, false), block, inter, 4, false))
		require.Equal(t, values(grid(sel, width, false)), values(dst))
	})

	t.Run("scalar", func(t *testing.T) {
		dst := make([]byte, 4)
		src := []byte{1, 2, 3, 4}
		require.NoError(t, ClipContiguousMemory(dst, core.Box{}, src, core.Box{}, core.Box{}, 4, true))
		require.Equal(t, src, dst)
	})

	t.Run("short source", func(t *testing.T) {
		block := core.NewBox(core.Dims{0}, core.Dims{8})
		err := ClipContiguousMemory(make([]byte, 32), block, make([]byte, 16), block, block, 4, true)
		require.ErrorIs(t, err, errs.ErrInvalidSelection)
	})
}

func TestClipThenReassemble(t *testing.T) {
	// four blocks tiling an 8x8 array, read back as one selection
	const width = 8
	sel := core.NewBox(core.Dims{2, 3}, core.Dims{5, 4})
	dst := make([]byte, sel.Elements()*4)

	for _, start := range []core.Dims{{0, 0}, {0, 4}, {4, 0}, {4, 4}} {
		block := core.NewBox(start, core.Dims{4, 4})
		inter, ok := Intersection(block, sel)
		require.True(t, ok)
		require.NoError(t, ClipContiguousMemory(dst, sel, grid(block, width, true), block, inter, 4, true))
	}

	require.Equal(t, values(grid(sel, width, true)), values(dst))
}

func TestCopyToContiguous(t *testing.T) {
	const width = 100
	mem := core.NewBox(nil, core.Dims{4, 6})
	src := grid(mem, width, true)

	dst := make([]byte, 2*3*4)
	require.NoError(t, CopyToContiguous(dst, src, core.Dims{1, 2}, core.Dims{4, 6}, core.Dims{2, 3}, 4, true))
	require.Equal(t, []uint32{102, 103, 104, 202, 203, 204}, values(dst))

	err := CopyToContiguous(make([]byte, 4), src, core.Dims{1, 2}, core.Dims{4, 6}, core.Dims{2, 3}, 4, true)
	require.ErrorIs(t, err, errs.ErrInvalidSelection)
}
