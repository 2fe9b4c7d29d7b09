package bp

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/section"
)

func TestSubFileInfoMap_Order(t *testing.T) {
	m := make(SubFileInfoMap)
	m.add(SubFileInfo{FileIndex: 2, Step: 0, BlockID: 4})
	m.add(SubFileInfo{FileIndex: 0, Step: 1, BlockID: 1})
	m.add(SubFileInfo{FileIndex: 0, Step: 0, BlockID: 0})
	m.add(SubFileInfo{FileIndex: 2, Step: 0, BlockID: 5})

	require.Equal(t, 4, m.Len())
	ids := make([]int, 0, 4)
	for _, sfi := range m.All() {
		ids = append(ids, sfi.BlockID)
	}
	require.Equal(t, []int{0, 1, 4, 5}, ids)

	assert.Equal(t, uint64(6), Seeks{Start: 10, End: 16}.Len())
	box := core.NewBox(core.Dims{1}, core.Dims{2})
	assert.Equal(t, box, SubFileInfo{IntersectionBox: box, Partial: true}.SourceBox())
	assert.Equal(t, core.Box{}, SubFileInfo{IntersectionBox: box}.SourceBox())
}

// Scenario: one rank writes a 4x4 local array and reads it back at once.
func TestScenario_LocalArrayReadBack(t *testing.T) {
	data := sequence[int32](16, 0)
	w := writeRanks(t, 1, 1, nil, func(s *Serializer, io *core.IO, _, _ int) error {
		v, err := variable[int32](io, "local", nil, nil, core.Dims{4, 4})
		if err != nil {
			return err
		}

		return putBlock(s, v, data, nil, core.Dims{4, 4})
	})

	d, io := parse(t, w)
	v := io.InquireVariable("local")
	require.Equal(t, core.Dims{4, 4}, v.Shape())
	got := readSelection[int32](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, core.Dims{4, 4}))
	require.Equal(t, data, got)
}

// Scenario: two ranks each write half of a 4x4 global array.
func TestScenario_TwoRankGlobalArray(t *testing.T) {
	w := writeRanks(t, 2, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
		start, count := core.Dims{uint64(2 * rank), 0}, core.Dims{2, 4} //nolint:gosec
		v, err := variable[int32](io, "g", core.Dims{4, 4}, start, count)
		if err != nil {
			return err
		}

		return putBlock(s, v, sequence[int32](8, rank*8), start, count)
	})
	require.Len(t, w.data, 2)

	d, io := parse(t, w)
	v := io.InquireVariable("g")
	require.NoError(t, v.SetSelection(core.Dims{0, 0}, core.Dims{4, 4}))
	info := v.NewBlockInfo(nil)

	m, err := d.GetSubFileInfo(v, &info)
	require.NoError(t, err)
	all := m.All()
	require.Len(t, all, 2)
	for rank, sfi := range all {
		require.Equal(t, uint32(rank), sfi.FileIndex) //nolint:gosec
		require.Equal(t, core.NewBox(core.Dims{uint64(2 * rank), 0}, core.Dims{2, 4}), sfi.IntersectionBox) //nolint:gosec
	}

	got := readSelection[int32](t, d, w, v, info, core.NewBox(nil, core.Dims{4, 4}))
	require.Equal(t, sequence[int32](16, 0), got)
}

func TestDeserializer_GlobalArraySelectsWholeShape(t *testing.T) {
	w := writeRanks(t, 2, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
		start, count := core.Dims{uint64(2 * rank), 0}, core.Dims{2, 4} //nolint:gosec
		v, err := variable[int32](io, "g", core.Dims{4, 4}, start, count)
		if err != nil {
			return err
		}

		return putBlock(s, v, sequence[int32](8, rank*8), start, count)
	})

	d, io := parse(t, w)
	v := io.InquireVariable("g")
	start, count := v.Selection()
	require.Equal(t, core.Dims{0, 0}, start)
	require.Equal(t, core.Dims{4, 4}, count)
	require.Equal(t, uint64(16), v.SelectionSize())

	got := readSelection[int32](t, d, w, v, v.NewBlockInfo(nil), core.NewBox(nil, core.Dims{4, 4}))
	require.Equal(t, sequence[int32](16, 0), got)
}

// Scenario: an attribute defined identically on four ranks is merged into
// one index entry.
func TestScenario_AttributeMergedOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		merged *Metadata
	)
	err := collective.Run(context.Background(), 4, func(ctx context.Context, ch collective.Channel) error {
		io := core.NewIO("out")
		s, err := NewSerializer(WithRank(ch.Rank()))
		if err != nil {
			return err
		}
		if err := s.PutProcessGroupIndex(io.Name(), []uint8{format.MethodPOSIX}); err != nil {
			return err
		}
		if _, err := core.DefineAttribute(io, "description", "test"); err != nil {
			return err
		}
		if err := s.SerializeData(io, true); err != nil {
			return err
		}

		md, err := s.AggregateCollectiveMetadata(ctx, ch)
		if err != nil {
			return err
		}
		if ch.Rank() == 0 {
			mu.Lock()
			merged = md
			mu.Unlock()
		} else if md != nil {
			t.Errorf("rank %d received merged metadata", ch.Rank())
		}

		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, merged)
	require.Len(t, merged.Attributes, 1)

	h, err := section.ParseElementIndexHeader(buffer.NewCursor(merged.Attributes[0], endian.HostEngine()))
	require.NoError(t, err)
	require.Equal(t, "description", h.Name)
	require.Equal(t, uint64(1), h.SetsCount)
	require.Equal(t, uint64(4), merged.PGCount)
}

func TestGetSubFileInfo_SingleValues(t *testing.T) {
	w := writeRanks(t, 2, 2, nil, func(s *Serializer, io *core.IO, rank, step int) error {
		v, err := variable[uint16](io, "count", nil, nil, nil)
		if err != nil {
			return err
		}

		return putBlock(s, v, []uint16{uint16(rank*100 + step)}, nil, nil) //nolint:gosec
	})

	d, io := parse(t, w)
	v := io.InquireVariable("count")
	info := v.NewBlockInfo(nil)

	_, err := d.GetSubFileInfo(v, &info)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	require.NoError(t, v.SetStepSelection(0, 2))
	info = v.NewBlockInfo(nil)
	values, err := d.ValueFromMetadata(v, &info)
	require.NoError(t, err)
	require.Equal(t, []any{uint16(0), uint16(1)}, values)

	// each rank's value is a block of its own
	info.BlockID, info.HasBlockID = 1, true
	values, err = d.ValueFromMetadata(v, &info)
	require.NoError(t, err)
	require.Equal(t, []any{uint16(100), uint16(101)}, values)

	info.BlockID = 2
	_, err = d.ValueFromMetadata(v, &info)
	require.ErrorIs(t, err, errs.ErrInvalidSelection)

	arr, err := io.DefineVariableType("arr", format.Int8, nil, nil, core.Dims{1}, false)
	require.NoError(t, err)
	info = arr.NewBlockInfo(nil)
	_, err = d.ValueFromMetadata(arr, &info)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestPerformGetsVariablesSubFileInfo(t *testing.T) {
	w := writeRanks(t, 2, 1, nil, func(s *Serializer, io *core.IO, rank, _ int) error {
		for _, name := range []string{"a", "b"} {
			start, count := core.Dims{uint64(rank) * 3}, core.Dims{3} //nolint:gosec
			v, err := variable[float32](io, name, core.Dims{6}, start, count)
			if err != nil {
				return err
			}
			if err := putBlock(s, v, sequence[float32](3, rank*3), start, count); err != nil {
				return err
			}
		}

		return nil
	})

	d, io := parse(t, w)
	a, b := io.InquireVariable("a"), io.InquireVariable("b")
	require.NoError(t, a.SetSelection(core.Dims{0}, core.Dims{2}))
	require.NoError(t, b.SetSelection(core.Dims{2}, core.Dims{3}))
	ai, bi := a.NewBlockInfo(nil), b.NewBlockInfo(nil)

	maps, err := d.PerformGetsVariablesSubFileInfo([]ReadRequest{{Variable: a, Info: &ai}, {Variable: b, Info: &bi}})
	require.NoError(t, err)
	require.Len(t, maps, 2)
	require.Equal(t, 1, maps[0].Len())
	require.Equal(t, 2, maps[1].Len())

	files := make([]uint32, 0, 2)
	for _, sfi := range maps[1].All() {
		require.True(t, sfi.Partial)
		files = append(files, sfi.FileIndex)
	}
	require.True(t, slices.Equal([]uint32{0, 1}, files))

	bad := a.NewBlockInfo(nil)
	bad.StepsStart = 5
	_, err = d.PerformGetsVariablesSubFileInfo([]ReadRequest{{Variable: a, Info: &bad}})
	require.ErrorIs(t, err, errs.ErrInvalidSelection)
}
