package bp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/section"
)

// localBlob writes steps process groups on one rank and returns its index blob.
func localBlob(t *testing.T, rank, steps int, put putFunc) []byte {
	t.Helper()

	io := core.NewIO("out")
	s, err := NewSerializer(WithRank(rank))
	require.NoError(t, err)
	for step := range steps {
		require.NoError(t, s.PutProcessGroupIndex(io.Name(), []uint8{format.MethodPOSIX}))
		require.NoError(t, put(s, io, rank, step))
		require.NoError(t, s.SerializeData(io, true))
	}

	md, err := s.LocalMetadata()
	require.NoError(t, err)
	blob, err := EncodeIndexBlob(s.Engine(), uint32(rank), md) //nolint:gosec
	require.NoError(t, err)

	return blob
}

func mergeBlobs(t *testing.T, threads int, blobs [][]byte) []byte {
	t.Helper()

	agg := NewAggregationContext(endian.HostEngine(), threads)
	require.NoError(t, agg.AddBlobs(context.Background(), blobs))
	md, err := agg.Merge(context.Background())
	require.NoError(t, err)
	out, err := md.Bytes(endian.HostEngine(), true)
	require.NoError(t, err)

	return out
}

// randomWrites gives every rank its own subset of variables, block sizes and
// step pattern.
func randomWrites(seed uint64) putFunc {
	return func(s *Serializer, io *core.IO, rank, step int) error {
		rng := rand.New(rand.NewPCG(seed, uint64(rank*131+step))) //nolint:gosec
		for i := range 40 {
			if rng.IntN(3) == 0 {
				continue
			}
			n := 1 + rng.IntN(16)
			v, err := variable[float64](io, fmt.Sprintf("v%02d", i), nil, nil, core.Dims{uint64(n)}) //nolint:gosec
			if err != nil {
				return err
			}
			data := make([]float64, n)
			for j := range data {
				data[j] = rng.Float64()
			}
			if err := putBlock(s, v, data, nil, core.Dims{uint64(n)}); err != nil { //nolint:gosec
				return err
			}
		}
		if _, err := core.DefineAttribute(io, fmt.Sprintf("owner%d", rank%3), int32(rank)); err != nil {
			return err
		}

		return nil
	}
}

func TestAggregation_ThreadCountDoesNotChangeOutput(t *testing.T) {
	const ranks, steps = 6, 3

	blobs := make([][]byte, ranks)
	for r := range ranks {
		blobs[r] = localBlob(t, r, steps, randomWrites(7))
	}

	want := mergeBlobs(t, 1, blobs)
	for _, threads := range []int{2, 3, 8} {
		require.Equal(t, want, mergeBlobs(t, threads, blobs), "threads %d", threads)
	}

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec
	for range 5 {
		shuffled := append([][]byte(nil), blobs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, mergeBlobs(t, 4, shuffled))
	}
}

func TestAggregation_MergeOrder(t *testing.T) {
	const ranks, steps = 3, 2

	blobs := make([][]byte, ranks)
	for r := range ranks {
		blobs[r] = localBlob(t, r, steps, func(s *Serializer, io *core.IO, rank, step int) error {
			v, err := variable[int32](io, "x", nil, nil, core.Dims{1})
			if err != nil {
				return err
			}
			// every rank but the last redefines the attribute with its own value
			if rank < 2 {
				if _, err := core.DefineAttribute(io, "writer", int32(rank)); err != nil {
					return err
				}
			}

			return putBlock(s, v, []int32{int32(rank*10 + step)}, nil, core.Dims{1}) //nolint:gosec
		})
	}

	d, err := NewDeserializer()
	require.NoError(t, err)
	io := core.NewIO("in")
	require.NoError(t, d.ParseMetadata(mergeBlobs(t, 2, [][]byte{blobs[2], blobs[0], blobs[1]}), io))

	pgs := d.PGIndex()
	require.Len(t, pgs, ranks*steps)
	for i, pg := range pgs {
		require.Equal(t, uint32(i/steps), pg.ProcessID) //nolint:gosec
		require.Equal(t, uint32(i%steps+1), pg.TimeStep) //nolint:gosec
	}

	v := io.InquireVariable("x")
	for step := range steps {
		blocks := v.Blocks(step)
		require.Len(t, blocks, ranks)
		for r, rec := range blocks {
			require.Equal(t, uint32(r), rec.WriterID) //nolint:gosec
			require.Equal(t, int32(r*10+step), rec.Max) //nolint:gosec
		}
	}

	writer, err := core.AttributeValue[int32](io.InquireAttribute("writer"))
	require.NoError(t, err)
	require.Equal(t, int32(0), writer)
}

func TestAggregation_Errors(t *testing.T) {
	put := func(dt format.DataType) putFunc {
		return func(s *Serializer, io *core.IO, _, _ int) error {
			v, err := io.DefineVariableType("x", dt, nil, nil, core.Dims{2}, false)
			if err != nil {
				return err
			}
			data := map[format.DataType]any{format.Int32: []int32{1, 2}, format.Float32: []float32{1, 2}}[dt]

			return putBlock(s, v, data, nil, core.Dims{2})
		}
	}

	t.Run("type mismatch across ranks", func(t *testing.T) {
		blobs := [][]byte{localBlob(t, 0, 1, put(format.Int32)), localBlob(t, 1, 1, put(format.Float32))}
		for _, threads := range []int{1, 4} {
			agg := NewAggregationContext(endian.HostEngine(), threads)
			require.NoError(t, agg.AddBlobs(context.Background(), blobs))
			_, err := agg.Merge(context.Background())
			require.ErrorIs(t, err, errs.ErrTypeMismatch)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		b, err := buffer.New(endian.HostEngine())
		require.NoError(t, err)
		require.NoError(t, section.WriteElementIndex(b, section.ElementIndexHeader{Name: "bad", DataType: format.DataType(0xEE)}, nil))
		blob, err := EncodeIndexBlob(endian.HostEngine(), 0, &Metadata{Variables: [][]byte{b.Bytes()}})
		require.NoError(t, err)

		agg := NewAggregationContext(endian.HostEngine(), 1)
		require.NoError(t, agg.AddBlob(blob))
		_, err = agg.Merge(context.Background())
		require.ErrorIs(t, err, errs.ErrUnsupportedType)
	})

	t.Run("duplicate rank", func(t *testing.T) {
		blob := localBlob(t, 3, 1, put(format.Int32))
		agg := NewAggregationContext(endian.HostEngine(), 1)
		require.NoError(t, agg.AddBlob(blob))
		require.ErrorIs(t, agg.AddBlob(blob), errs.ErrInvalidArgument)
	})

	t.Run("truncated blob", func(t *testing.T) {
		blob := localBlob(t, 0, 1, put(format.Int32))
		agg := NewAggregationContext(endian.HostEngine(), 1)
		require.Error(t, agg.AddBlob(blob[:len(blob)-5]))
	})
}
