package bp

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/section"
)

// shapes of rank 1 to 5; two writers split axis 0.
var roundTripShapes = []core.Dims{
	{4},
	{4, 3},
	{4, 2, 3},
	{4, 3, 2, 2},
	{4, 1, 2, 3, 2},
}

func testRoundTripType[T encoding.Numeric](t *testing.T) {
	const writers, steps = 2, 2

	w := writeRanks(t, writers, steps, nil, func(s *Serializer, io *core.IO, rank, step int) error {
		scalar, err := variable[T](io, "scalar", nil, nil, nil)
		if err != nil {
			return err
		}
		if rank == 0 {
			if err := putBlock(s, scalar, sequence[T](1, 100+step), nil, nil); err != nil {
				return err
			}
		}

		for _, shape := range roundTripShapes {
			count := slices.Clone(shape)
			count[0] /= writers
			start := make(core.Dims, len(shape))
			start[0] = uint64(rank) * count[0] //nolint:gosec

			v, err := variable[T](io, fmt.Sprintf("rank%d", len(shape)), shape, start, count)
			if err != nil {
				return err
			}
			n := int(count.Product()) //nolint:gosec
			if err := putBlock(s, v, sequence[T](n, step*1000+rank*n), start, count); err != nil {
				return err
			}
		}

		return nil
	})

	d, io := parse(t, w)
	require.Equal(t, steps, d.StepsCount())
	require.Len(t, io.Variables(), 1+len(roundTripShapes))

	scalar := io.InquireVariable("scalar")
	require.NotNil(t, scalar)
	require.Equal(t, format.ShapeGlobalValue, scalar.ShapeID())
	require.NoError(t, scalar.SetStepSelection(0, steps))
	info := scalar.NewBlockInfo(nil)
	values, err := d.ValueFromMetadata(scalar, &info)
	require.NoError(t, err)
	require.Equal(t, []any{sequence[T](1, 100)[0], sequence[T](1, 101)[0]}, values)

	for _, shape := range roundTripShapes {
		v := io.InquireVariable(fmt.Sprintf("rank%d", len(shape)))
		require.NotNil(t, v)
		require.Equal(t, format.ShapeGlobalArray, v.ShapeID())
		require.Equal(t, shape, v.Shape())
		require.Equal(t, steps, v.StepsCount())

		n := int(shape.Product()) //nolint:gosec
		for step := range steps {
			require.NoError(t, v.SetStepSelection(step, 1))
			require.NoError(t, v.SetSelection(make(core.Dims, len(shape)), shape))
			got := readSelection[T](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, shape))
			// axis 0 is split, so the row-major array is rank 0's block then rank 1's
			require.Equal(t, sequence[T](n, step*1000), got, "rank %d step %d", len(shape), step)
		}
	}
}

func TestRoundTrip_AllTypes(t *testing.T) {
	t.Run("int8", testRoundTripType[int8])
	t.Run("int16", testRoundTripType[int16])
	t.Run("int32", testRoundTripType[int32])
	t.Run("int64", testRoundTripType[int64])
	t.Run("uint8", testRoundTripType[uint8])
	t.Run("uint16", testRoundTripType[uint16])
	t.Run("uint32", testRoundTripType[uint32])
	t.Run("uint64", testRoundTripType[uint64])
	t.Run("float32", testRoundTripType[float32])
	t.Run("float64", testRoundTripType[float64])
	t.Run("complex64", testRoundTripType[complex64])
	t.Run("complex128", testRoundTripType[complex128])
}

func TestRoundTrip_StringValuesAndAttributes(t *testing.T) {
	w := writeRanks(t, 1, 2, nil, func(s *Serializer, io *core.IO, _, step int) error {
		v, err := variable[string](io, "label", nil, nil, nil)
		if err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "authors", "ada", "grace"); err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "weights", 0.5, 0.25, 0.125); err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "answer", int64(42)); err != nil {
			return err
		}

		return putBlock(s, v, []string{fmt.Sprintf("step-%d", step)}, nil, nil)
	})

	d, io := parse(t, w)
	v := io.InquireVariable("label")
	require.NoError(t, v.SetStepSelection(0, 2))
	info := v.NewBlockInfo(nil)
	values, err := d.ValueFromMetadata(v, &info)
	require.NoError(t, err)
	require.Equal(t, []any{"step-0", "step-1"}, values)

	authors, err := core.AttributeValues[string](io.InquireAttribute("authors"))
	require.NoError(t, err)
	require.Equal(t, []string{"ada", "grace"}, authors)

	weights, err := core.AttributeValues[float64](io.InquireAttribute("weights"))
	require.NoError(t, err)
	require.Equal(t, []float64{0.5, 0.25, 0.125}, weights)

	answer, err := core.AttributeValue[int64](io.InquireAttribute("answer"))
	require.NoError(t, err)
	require.Equal(t, int64(42), answer)
}

func TestDeserializer_PartialSelection(t *testing.T) {
	shape := core.Dims{6, 8}
	w := writeRanks(t, 3, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
		start, count := core.Dims{uint64(2 * rank), 0}, core.Dims{2, 8} //nolint:gosec
		v, err := variable[int32](io, "grid", shape, start, count)
		if err != nil {
			return err
		}
		data := make([]int32, 16)
		for i := range data {
			row, col := 2*rank+i/8, i%8
			data[i] = int32(row*100 + col) //nolint:gosec
		}

		return putBlock(s, v, data, start, count)
	})

	d, io := parse(t, w)
	v := io.InquireVariable("grid")

	t.Run("strided box across two blocks", func(t *testing.T) {
		sel := core.NewBox(core.Dims{1, 2}, core.Dims{3, 4})
		require.NoError(t, v.SetSelection(sel.Start, sel.Count()))
		info := v.NewBlockInfo(nil)

		m, err := d.GetSubFileInfo(v, &info)
		require.NoError(t, err)
		all := m.All()
		require.Len(t, all, 2)
		// one row of the first block is contiguous, two rows of the second are not
		require.True(t, all[0].Partial)
		require.False(t, all[1].Partial)

		got := readSelection[int32](t, d, w, v, info, sel)
		require.Equal(t, []int32{102, 103, 104, 105, 202, 203, 204, 205, 302, 303, 304, 305}, got)
	})

	t.Run("contiguous rows read only their bytes", func(t *testing.T) {
		sel := core.NewBox(core.Dims{3, 0}, core.Dims{1, 8})
		require.NoError(t, v.SetSelection(sel.Start, sel.Count()))
		info := v.NewBlockInfo(nil)

		m, err := d.GetSubFileInfo(v, &info)
		require.NoError(t, err)
		all := m.All()
		require.Len(t, all, 1)
		require.True(t, all[0].Partial)
		require.Equal(t, uint64(8*4), all[0].Seeks.Len())
		require.Equal(t, uint32(1), all[0].FileIndex)

		got := readSelection[int32](t, d, w, v, info, sel)
		require.Equal(t, []int32{300, 301, 302, 303, 304, 305, 306, 307}, got)
	})

	t.Run("empty intersection yields nothing", func(t *testing.T) {
		sel := core.NewBox(core.Dims{0, 0}, core.Dims{0, 8})
		require.NoError(t, v.SetSelection(sel.Start, sel.Count()))
		info := v.NewBlockInfo(nil)

		m, err := d.GetSubFileInfo(v, &info)
		require.NoError(t, err)
		require.Zero(t, m.Len())
	})

	t.Run("missing step", func(t *testing.T) {
		info := v.NewBlockInfo(nil)
		info.StepsStart, info.StepsCount = 3, 1

		_, err := d.GetSubFileInfo(v, &info)
		require.ErrorIs(t, err, errs.ErrInvalidSelection)
	})
}

func TestDeserializer_LocalArrayBlocks(t *testing.T) {
	w := writeRanks(t, 3, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
		count := core.Dims{uint64(rank + 1)} //nolint:gosec
		v, err := variable[float64](io, "particles", nil, nil, count)
		if err != nil {
			return err
		}

		return putBlock(s, v, sequence[float64](rank+1, rank*10), nil, count)
	})

	d, io := parse(t, w)
	v := io.InquireVariable("particles")
	require.Equal(t, format.ShapeLocalArray, v.ShapeID())
	require.Len(t, v.Blocks(0), 3)

	for id := range 3 {
		require.NoError(t, v.SetBlockSelection(id))
		require.Equal(t, core.Dims{uint64(id + 1)}, v.Shape()) //nolint:gosec
		require.NoError(t, v.SetSelection(nil, v.Shape()))
		info := v.NewBlockInfo(nil)
		got := readSelection[float64](t, d, w, v, info, core.NewBox(nil, v.Shape()))
		require.Equal(t, sequence[float64](id+1, id*10), got)
		require.Equal(t, uint32(id), v.Blocks(0)[id].WriterID) //nolint:gosec
	}

	require.NoError(t, v.SetBlockSelection(3))
	info := v.NewBlockInfo(nil)
	_, err := d.GetSubFileInfo(v, &info)
	require.ErrorIs(t, err, errs.ErrInvalidSelection)
}

func TestDeserializer_ByteReversal(t *testing.T) {
	w := writeRanks(t, 1, 1, []SerializerOption{WithEngine(foreignEngine())}, func(s *Serializer, io *core.IO, _, _ int) error {
		v, err := variable[complex64](io, "field", core.Dims{3, 2}, core.Dims{0, 0}, core.Dims{3, 2})
		if err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "scale", 2.5); err != nil {
			return err
		}

		return putBlock(s, v, sequence[complex64](6, 1), core.Dims{0, 0}, core.Dims{3, 2})
	})

	t.Run("rejected without reversal", func(t *testing.T) {
		d, err := NewDeserializer()
		require.NoError(t, err)
		err = d.ParseMetadata(w.metadata, core.NewIO("in"))
		require.ErrorIs(t, err, errs.ErrEndiannessMismatch)
	})

	t.Run("read with reversal", func(t *testing.T) {
		d, io := parse(t, w, WithByteReversal(true))
		require.True(t, d.NeedsByteReversal())

		v := io.InquireVariable("field")
		require.Equal(t, core.Dims{3, 2}, v.Shape())
		require.NoError(t, v.SetSelection(core.Dims{0, 0}, core.Dims{3, 2}))
		got := readSelection[complex64](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, core.Dims{3, 2}))
		require.Equal(t, sequence[complex64](6, 1), got)

		lo, hi, ok := v.MinMax()
		require.True(t, ok)
		require.Equal(t, complex64(complex(1, -1)), lo)
		require.Equal(t, complex64(complex(6, -6)), hi)

		scale, err := core.AttributeValue[float64](io.InquireAttribute("scale"))
		require.NoError(t, err)
		require.Equal(t, 2.5, scale)
	})
}

func TestDeserializer_ColumnMajor(t *testing.T) {
	// a column-major writer describes a 2x3 array; a row-major reader sees 3x2
	w := writeRanks(t, 1, 1, []SerializerOption{WithColumnMajor(true)}, func(s *Serializer, io *core.IO, _, _ int) error {
		v, err := variable[uint32](io, "m", core.Dims{2, 3}, core.Dims{0, 0}, core.Dims{2, 3})
		if err != nil {
			return err
		}

		return putBlock(s, v, sequence[uint32](6, 0), core.Dims{0, 0}, core.Dims{2, 3})
	})

	t.Run("row-major host", func(t *testing.T) {
		d, io := parse(t, w)
		require.True(t, d.IsColumnMajor())
		require.True(t, d.ReverseDims())

		v := io.InquireVariable("m")
		require.Equal(t, core.Dims{3, 2}, v.Shape())
		require.NoError(t, v.SetSelection(core.Dims{0, 0}, core.Dims{3, 2}))
		got := readSelection[uint32](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, core.Dims{3, 2}))
		require.Equal(t, sequence[uint32](6, 0), got)

		// one row of the reversed view is one column of the writer's array
		require.NoError(t, v.SetSelection(core.Dims{1, 0}, core.Dims{1, 2}))
		got = readSelection[uint32](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(core.Dims{1, 0}, core.Dims{1, 2}))
		require.Equal(t, []uint32{14, 21}, got)
	})

	t.Run("column-major host", func(t *testing.T) {
		d, io := parse(t, w, WithHostColumnMajor(true))
		require.False(t, d.ReverseDims())
		v := io.InquireVariable("m")
		require.Equal(t, core.Dims{2, 3}, v.Shape())
	})
}

func TestDeserializer_Operators(t *testing.T) {
	for _, op := range []format.CompressionType{format.CompressionNone, format.CompressionZstd, format.CompressionS2, format.CompressionLZ4} {
		t.Run(op.String(), func(t *testing.T) {
			shape := core.Dims{64, 32}
			w := writeRanks(t, 2, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
				start, count := core.Dims{uint64(32 * rank), 0}, core.Dims{32, 32} //nolint:gosec
				v, err := variable[float64](io, "u", shape, start, count)
				if err != nil {
					return err
				}
				if len(v.Operations()) == 0 {
					v.AddOperation(core.Operation{Type: op, Params: map[string]string{}})
				}

				return putBlock(s, v, sequence[float64](32*32, rank*32*32), start, count)
			})

			d, io := parse(t, w)
			v := io.InquireVariable("u")
			rec := v.Blocks(0)[0]
			require.Equal(t, op, rec.Operator)
			require.Equal(t, uint64(32*32*8), rec.PreSize)
			if op != format.CompressionNone {
				require.Less(t, rec.PayloadSize, rec.PreSize)
			}

			require.NoError(t, v.SetSelection(core.Dims{0, 0}, shape))
			got := readSelection[float64](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, shape))
			require.Equal(t, sequence[float64](64*32, 0), got)

			// a transformed block is always read whole
			sel := core.NewBox(core.Dims{40, 3}, core.Dims{1, 5})
			require.NoError(t, v.SetSelection(sel.Start, sel.Count()))
			info := v.NewBlockInfo(nil)
			m, err := d.GetSubFileInfo(v, &info)
			require.NoError(t, err)
			all := m.All()
			require.Len(t, all, 1)
			require.Equal(t, op == format.CompressionNone, all[0].Partial)

			got = readSelection[float64](t, d, w, v, info, sel)
			require.Equal(t, sequence[float64](5, 40*32+3), got)
		})
	}
}

func TestSerializer_MemorySelection(t *testing.T) {
	// a 4x6 buffer with one ghost cell on each side holds a 2x4 block
	w := writeRanks(t, 1, 1, nil, func(s *Serializer, io *core.IO, _, _ int) error {
		v, err := variable[int16](io, "interior", core.Dims{2, 4}, core.Dims{0, 0}, core.Dims{2, 4})
		if err != nil {
			return err
		}
		if err := v.SetMemorySelection(core.Dims{1, 1}, core.Dims{4, 6}); err != nil {
			return err
		}
		mem := make([]int16, 24)
		for i := range mem {
			mem[i] = int16(i) //nolint:gosec
		}

		return putBlock(s, v, mem, core.Dims{0, 0}, core.Dims{2, 4})
	})

	d, io := parse(t, w)
	v := io.InquireVariable("interior")
	require.NoError(t, v.SetSelection(core.Dims{0, 0}, core.Dims{2, 4}))
	got := readSelection[int16](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, core.Dims{2, 4}))
	require.Equal(t, []int16{7, 8, 9, 10, 13, 14, 15, 16}, got)

	lo, hi, ok := v.MinMax()
	require.True(t, ok)
	require.Equal(t, int16(7), lo)
	require.Equal(t, int16(16), hi)
}

func TestDeserializer_ReparseIsIdempotent(t *testing.T) {
	w := writeRanks(t, 2, 3, nil, func(s *Serializer, io *core.IO, rank, step int) error {
		v, err := variable[int64](io, "v", core.Dims{4}, core.Dims{uint64(2 * rank)}, core.Dims{2}) //nolint:gosec
		if err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "title", "reparse"); err != nil {
			return err
		}

		return putBlock(s, v, sequence[int64](2, step), core.Dims{uint64(2 * rank)}, core.Dims{2}) //nolint:gosec
	})

	d, io := parse(t, w)
	snapshot := func() map[string][][]core.BlockRecord {
		out := make(map[string][][]core.BlockRecord)
		for _, v := range io.Variables() {
			for _, step := range v.AvailableSteps() {
				out[v.Name()] = append(out[v.Name()], v.Blocks(step))
			}
		}

		return out
	}
	first := snapshot()

	require.NoError(t, d.ParseMetadata(w.metadata, io))
	require.Equal(t, first, snapshot())
	require.Len(t, io.Attributes(), 1)
	require.Equal(t, 3, d.StepsCount())
	require.Len(t, d.PGIndex(), 6)

	t.Run("vanished variables are removed", func(t *testing.T) {
		_, err := io.DefineVariableType("stale", format.Float32, nil, nil, core.Dims{1}, false)
		require.NoError(t, err)
		require.NoError(t, d.ParseMetadata(w.metadata, io))
		require.Nil(t, io.InquireVariable("stale"))
	})
}

func TestDeserializer_ParallelParseMatchesSerial(t *testing.T) {
	w := writeRanks(t, 4, 2, nil, func(s *Serializer, io *core.IO, rank, step int) error {
		for i := range 24 {
			name := fmt.Sprintf("var%02d", i)
			v, err := variable[float32](io, name, nil, nil, core.Dims{uint64(i%5 + 1)}) //nolint:gosec
			if err != nil {
				return err
			}
			if err := putBlock(s, v, sequence[float32](i%5+1, rank+step), nil, core.Dims{uint64(i%5 + 1)}); err != nil { //nolint:gosec
				return err
			}
		}

		return nil
	})

	_, serial := parse(t, w)
	_, parallel := parse(t, w, WithParseThreads(8))

	require.Len(t, parallel.Variables(), len(serial.Variables()))
	for _, v := range serial.Variables() {
		p := parallel.InquireVariable(v.Name())
		require.NotNil(t, p, v.Name())
		require.Equal(t, v.AvailableSteps(), p.AvailableSteps())
		for _, step := range v.AvailableSteps() {
			require.Equal(t, v.Blocks(step), p.Blocks(step))
		}
	}
}

func TestDeserializer_CorruptedStreams(t *testing.T) {
	w := writeRanks(t, 1, 1, nil, func(s *Serializer, io *core.IO, _, _ int) error {
		v, err := variable[int32](io, "x", nil, nil, core.Dims{2})
		if err != nil {
			return err
		}

		return putBlock(s, v, []int32{1, 2}, nil, core.Dims{2})
	})

	d, err := NewDeserializer()
	require.NoError(t, err)

	t.Run("too short", func(t *testing.T) {
		err := d.ParseMetadata(w.metadata[:10], core.NewIO("in"))
		require.ErrorIs(t, err, errs.ErrBufferTooShort)
	})

	t.Run("old version", func(t *testing.T) {
		data := slices.Clone(w.metadata)
		data[len(data)-1] = 2
		err := d.ParseMetadata(data, core.NewIO("in"))
		require.ErrorIs(t, err, errs.ErrUnsupportedVersion)
	})

	t.Run("truncated index", func(t *testing.T) {
		footer := w.metadata[len(w.metadata)-section.MinifooterSize:]
		data := append(slices.Clone(w.metadata[:len(w.metadata)-section.MinifooterSize-3]), footer...)
		err := d.ParseMetadata(data, core.NewIO("in"))
		require.Error(t, err)
	})

	t.Run("zero time step", func(t *testing.T) {
		_, err := d.blockRecord(format.Int32, section.Characteristics{})
		require.ErrorIs(t, err, errs.ErrCorruptedRecord)
	})

	_, err = NewDeserializer(WithParseThreads(0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}
