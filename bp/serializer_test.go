package bp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/section"
)

func newSerializer(t *testing.T, opts ...SerializerOption) *Serializer {
	t.Helper()

	s, err := NewSerializer(opts...)
	require.NoError(t, err)

	return s
}

// pgWalk re-reads one process group using only its length fields.
type pgWalk struct {
	header     section.PGHeader
	varLengths []uint64
	attrsCount uint32
	attrBytes  []byte
}

func walkProcessGroup(t *testing.T, engine endian.EndianEngine, data []byte) (pgWalk, int) {
	t.Helper()

	var w pgWalk
	c := buffer.NewCursor(data, engine)
	pgLength := c.U64()
	pgStart := c.Pos()

	header, err := section.ParsePGHeader(c)
	require.NoError(t, err)
	w.header = header

	varsCount := c.U32()
	varsLength := c.U64()
	varsStart := c.Pos()
	for range varsCount {
		n := c.U64()
		w.varLengths = append(w.varLengths, n)
		c.Skip(int(n))
	}
	require.NoError(t, c.Err())
	require.Equal(t, varsLength, uint64(c.Pos()-varsStart))

	w.attrsCount = c.U32()
	attrsLength := c.U64()
	w.attrBytes = c.Bytes(int(attrsLength))
	require.NoError(t, c.Err())
	require.Equal(t, pgLength, uint64(c.Pos()-pgStart))

	return w, c.Pos()
}

func TestSerializer_BackpatchedLengths(t *testing.T) {
	io := core.NewIO("sim")
	temp, err := core.DefineVariable[float64](io, "temperature", core.Dims{8}, core.Dims{0}, core.Dims{8}, true)
	require.NoError(t, err)
	iter, err := core.DefineVariable[int32](io, "iteration", nil, nil, nil, true)
	require.NoError(t, err)
	_, err = core.DefineAttribute(io, "units", "K")
	require.NoError(t, err)

	s := newSerializer(t, WithRank(3))
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), []uint8{format.MethodPOSIX}))
	require.True(t, s.HasOpenProcessGroup())
	require.NoError(t, putBlock(s, temp, sequence[float64](8, 0), core.Dims{0}, core.Dims{8}))
	require.NoError(t, putBlock(s, iter, []int32{42}, nil, nil))
	require.NoError(t, s.SerializeData(io, true))
	require.False(t, s.HasOpenProcessGroup())
	require.Equal(t, 1, s.CurrentStep())

	data := s.Data().Bytes()
	w, end := walkProcessGroup(t, s.Engine(), data)
	require.Equal(t, len(data), end)
	require.Equal(t, "sim", w.header.Name)
	require.Equal(t, format.FirstTimeStep, w.header.TimeStep)
	require.Equal(t, []uint8{format.MethodPOSIX}, w.header.Methods)
	require.Len(t, w.varLengths, 2)
	require.Equal(t, uint32(1), w.attrsCount)

	entry, err := section.ParseAttrEntry(buffer.NewCursor(w.attrBytes, s.Engine()))
	require.NoError(t, err)
	require.Equal(t, "units", entry.Name)
	require.Equal(t, "K", entry.Value)

	md, err := s.LocalMetadata()
	require.NoError(t, err)
	require.Equal(t, uint64(1), md.PGCount)
	require.Len(t, md.Variables, 2)
	require.Len(t, md.Attributes, 1)

	pgs, err := section.ParsePGIndex(buffer.NewCursor(append(pgIndexHeader(s.Engine(), md), md.PGIndex...), s.Engine()))
	require.NoError(t, err)
	require.Len(t, pgs, 1)
	require.Equal(t, uint32(3), pgs[0].ProcessID)
	require.Equal(t, uint64(0), pgs[0].Offset)
}

func pgIndexHeader(engine endian.EndianEngine, md *Metadata) []byte {
	b := engine.AppendUint64(nil, md.PGCount)
	return engine.AppendUint64(b, uint64(len(md.PGIndex)))
}

func TestSerializer_VariableIndexOffsets(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[uint16](io, "counts", nil, nil, core.Dims{5}, false)
	require.NoError(t, err)

	s := newSerializer(t, WithRank(1))
	for step := range 3 {
		require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
		require.NoError(t, putBlock(s, v, sequence[uint16](5, step*10), nil, core.Dims{5}))
		require.NoError(t, s.SerializeData(io, true))
	}

	idx := s.vars["counts"]
	require.NotNil(t, idx)
	require.Equal(t, uint64(3), idx.SetsCount)

	c := buffer.NewCursor(idx.Sets, s.Engine())
	data := s.Data().Bytes()
	for step := range 3 {
		ch, err := section.ParseCharacteristics(c, section.KindVariableIndex, format.Uint16)
		require.NoError(t, err)
		require.Equal(t, uint32(step+1), ch.TimeStep)
		require.Equal(t, uint32(1), ch.FileIndex)
		require.Equal(t, uint16(step*10), ch.Min)
		require.Equal(t, uint16(step*10+4), ch.Max)

		// the entry length field sits at Offset, the payload ends the entry
		entryLength := s.Engine().Uint64(data[ch.Offset:])
		require.Equal(t, ch.Offset+8+entryLength, ch.PayloadOffset+10)

		got := make([]uint16, 5)
		for i := range got {
			got[i] = s.Engine().Uint16(data[ch.PayloadOffset+uint64(2*i):])
		}
		require.Equal(t, sequence[uint16](5, step*10), got)
	}
}

func TestSerializer_AttributeDedup(t *testing.T) {
	io := core.NewIO("sim")
	_, err := core.DefineAttribute(io, "description", "test")
	require.NoError(t, err)
	_, err = core.DefineAttribute(io, "dt", 0.25)
	require.NoError(t, err)

	s := newSerializer(t)
	for range 2 {
		require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
		require.NoError(t, s.SerializeData(io, true))
	}

	data := s.Data().Bytes()
	first, end := walkProcessGroup(t, s.Engine(), data)
	second, _ := walkProcessGroup(t, s.Engine(), data[end:])
	require.Equal(t, uint32(2), first.attrsCount)
	require.Equal(t, uint32(0), second.attrsCount)
	require.Equal(t, []string{"description", "dt"}, s.Session().SerializedAttributes())

	t.Run("conflicting redefinition leaves the buffer untouched", func(t *testing.T) {
		io.RemoveAllAttributes()
		_, err := core.DefineAttribute(io, "description", "changed")
		require.NoError(t, err)

		require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
		before := s.Data().Position
		err = s.SerializeData(io, true)
		require.ErrorIs(t, err, errs.ErrAttributeExists)
		require.Equal(t, before, s.Data().Position)
		require.True(t, s.HasOpenProcessGroup())
	})
}

func TestSerializer_CallOrder(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[int8](io, "flags", nil, nil, core.Dims{2}, false)
	require.NoError(t, err)
	s := newSerializer(t)

	err = putBlock(s, v, []int8{1, 2}, nil, core.Dims{2})
	require.ErrorIs(t, err, errs.ErrInvalidCallOrder)

	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	require.ErrorIs(t, s.PutProcessGroupIndex(io.Name(), nil), errs.ErrInvalidCallOrder)
	require.ErrorIs(t, s.ResetData(true), errs.ErrInvalidCallOrder)
	require.ErrorIs(t, s.PutVariablePayload(v), errs.ErrInvalidCallOrder)

	info := v.NewBlockInfo([]int8{1, 2})
	require.NoError(t, s.PutVariableMetadata(v, &info))
	require.ErrorIs(t, s.PutVariableMetadata(v, &info), errs.ErrInvalidCallOrder)
	require.ErrorIs(t, s.SerializeData(io, true), errs.ErrInvalidCallOrder)
	require.NoError(t, s.PutVariablePayload(v))
	require.NoError(t, s.CloseData(io))

	require.ErrorIs(t, s.PutProcessGroupIndex(io.Name(), nil), errs.ErrEngineClosed)
}

func TestSerializer_PGIndexEntryTooLong(t *testing.T) {
	s := newSerializer(t)
	name := strings.Repeat("n", 65530)
	pos := s.Data().Position

	err := s.PutProcessGroupIndex(name, []uint8{format.MethodPOSIX})
	require.ErrorIs(t, err, errs.ErrBufferCapacity)
	require.Equal(t, pos, s.Data().Position)

	// the serializer is still usable with a short name
	require.NoError(t, s.PutProcessGroupIndex("sim", []uint8{format.MethodPOSIX}))
	require.NoError(t, s.SerializeData(core.NewIO("sim"), true))
	md, err := s.LocalMetadata()
	require.NoError(t, err)
	require.Equal(t, uint64(1), md.PGCount)
}

func TestSerializer_RejectsBadBlocks(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[float32](io, "p", nil, nil, core.Dims{4}, false)
	require.NoError(t, err)
	s := newSerializer(t)
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	before := s.Data().Position

	t.Run("type mismatch", func(t *testing.T) {
		err := putBlock(s, v, []float64{1, 2, 3, 4}, nil, core.Dims{4})
		require.ErrorIs(t, err, errs.ErrTypeMismatch)
	})

	t.Run("short buffer", func(t *testing.T) {
		err := putBlock(s, v, []float32{1}, nil, core.Dims{4})
		require.ErrorIs(t, err, errs.ErrInvalidSelection)
	})

	t.Run("two operations", func(t *testing.T) {
		v.AddOperation(core.Operation{Type: format.CompressionZstd})
		v.AddOperation(core.Operation{Type: format.CompressionLZ4})
		defer v.RemoveOperations()

		err := putBlock(s, v, []float32{1, 2, 3, 4}, nil, core.Dims{4})
		require.ErrorIs(t, err, errs.ErrInvalidArgument)
	})

	t.Run("unknown operator", func(t *testing.T) {
		v.AddOperation(core.Operation{Type: format.CompressionType(0x40)})
		defer v.RemoveOperations()

		err := putBlock(s, v, []float32{1, 2, 3, 4}, nil, core.Dims{4})
		require.ErrorIs(t, err, errs.ErrUnknownOperator)
	})

	require.Equal(t, before, s.Data().Position)
	require.Empty(t, s.vars)
}

func TestSerializer_Options(t *testing.T) {
	_, err := NewSerializer(WithThreads(0))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewSerializer(WithRank(-1))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewSerializer(WithEngine(nil))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	s := newSerializer(t, WithEngine(foreignEngine()), WithRank(2))
	require.Equal(t, foreignEngine(), s.Engine())
	require.Equal(t, 2, s.Rank())
}

func TestSerializer_ReserveFor(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[float64](io, "big", nil, nil, core.Dims{4096}, false)
	require.NoError(t, err)

	s := newSerializer(t, WithBufferOptions(buffer.WithInitialSize(16<<10), buffer.WithMaxSize(32<<10)))
	info := v.NewBlockInfo(make([]float64, 4096))
	require.Greater(t, s.EstimateSize(v, &info), 4096*8)

	res, err := s.ReserveFor(v, &info)
	require.NoError(t, err)
	require.Equal(t, buffer.ResizeFlush, res)
}

func TestSerializer_CloseData(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[int64](io, "ids", nil, nil, core.Dims{3}, false)
	require.NoError(t, err)
	_, err = core.DefineAttribute(io, "kind", "particles")
	require.NoError(t, err)

	s := newSerializer(t)
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	require.NoError(t, putBlock(s, v, []int64{7, 8, 9}, nil, core.Dims{3}))
	require.NoError(t, s.CloseData(io))
	require.ErrorIs(t, s.CloseData(io), errs.ErrEngineClosed)

	// the data stream now describes itself
	d, err := NewDeserializer()
	require.NoError(t, err)
	in := core.NewIO("in")
	data := s.Data().Bytes()
	require.NoError(t, d.ParseMetadata(data, in))
	require.False(t, d.Minifooter().HasSubFiles)
	require.Equal(t, 1, d.StepsCount())

	got := in.InquireVariable("ids")
	require.NotNil(t, got)
	w := written{data: map[uint32][]byte{0: data}}
	info := got.NewBlockInfo(nil)
	require.Equal(t, []int64{7, 8, 9}, readSelection[int64](t, d, w, got, info, core.NewBox(nil, core.Dims{3})))
	require.Equal(t, "particles", in.InquireAttribute("kind").Value())
}

func TestSerializer_CloseStream(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[uint8](io, "mask", nil, nil, core.Dims{4}, false)
	require.NoError(t, err)

	s := newSerializer(t)
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	require.NoError(t, putBlock(s, v, []uint8{1, 0, 1, 1}, nil, core.Dims{4}))

	flushed, err := s.CloseStream(io)
	require.NoError(t, err)
	_, end := walkProcessGroup(t, s.Engine(), flushed)
	require.Equal(t, len(flushed), end)
	require.Equal(t, 0, s.CurrentStep())

	require.NoError(t, s.ResetData(true))
	require.Equal(t, uint64(len(flushed)), s.Data().AbsolutePosition())
}

func TestSerializer_Relocate(t *testing.T) {
	io := core.NewIO("sim")
	v, err := core.DefineVariable[int32](io, "n", nil, nil, core.Dims{2}, false)
	require.NoError(t, err)
	_, err = core.DefineAttribute(io, "a", int32(1))
	require.NoError(t, err)

	s := newSerializer(t, WithRank(5))
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	require.NoError(t, putBlock(s, v, []int32{1, 2}, nil, core.Dims{2}))
	require.NoError(t, s.SerializeData(io, true))
	require.NoError(t, s.Relocate(1000, 2))

	// a second relocation only moves what was written since
	require.NoError(t, s.ResetData(false))
	require.NoError(t, s.PutProcessGroupIndex(io.Name(), nil))
	require.NoError(t, putBlock(s, v, []int32{3, 4}, nil, core.Dims{2}))
	require.NoError(t, s.SerializeData(io, true))
	require.NoError(t, s.Relocate(5000, 2))

	md, err := s.LocalMetadata()
	require.NoError(t, err)
	pgs, err := section.ParsePGIndex(buffer.NewCursor(append(pgIndexHeader(s.Engine(), md), md.PGIndex...), s.Engine()))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), pgs[0].Offset)
	require.Equal(t, uint64(5000), pgs[1].Offset)

	c := buffer.NewCursor(s.vars["n"].Sets, s.Engine())
	first, err := section.ParseCharacteristics(c, section.KindVariableIndex, format.Int32)
	require.NoError(t, err)
	second, err := section.ParseCharacteristics(c, section.KindVariableIndex, format.Int32)
	require.NoError(t, err)
	require.Equal(t, uint32(2), first.FileIndex)
	require.Equal(t, uint32(2), second.FileIndex)
	require.Greater(t, first.Offset, uint64(1000))
	require.Less(t, first.Offset, uint64(5000))
	require.Greater(t, second.Offset, uint64(5000))
	require.Equal(t, first.PayloadOffset-first.Offset, second.PayloadOffset-second.Offset)

	attr, err := section.ParseCharacteristics(buffer.NewCursor(s.attrs["a"].Sets, s.Engine()), section.KindAttributeIndex, format.Int32)
	require.NoError(t, err)
	require.Equal(t, uint32(2), attr.FileIndex)
	require.Greater(t, attr.Offset, uint64(1000))
}
