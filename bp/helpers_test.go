package bp

import (
	"context"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/format"
)

// written is the output of an in-process write: one data stream per
// sub-file and the merged metadata stream.
type written struct {
	data     map[uint32][]byte
	metadata []byte
}

type putFunc func(s *Serializer, io *core.IO, rank, step int) error

// writeRanks runs n ranks, each writing steps process groups with put, and
// aggregates their metadata.
func writeRanks(t *testing.T, n, steps int, opts []SerializerOption, put putFunc) written {
	t.Helper()

	out := written{data: make(map[uint32][]byte)}
	var mu sync.Mutex
	err := collective.Run(context.Background(), n, func(ctx context.Context, ch collective.Channel) error {
		io := core.NewIO("out")
		s, err := NewSerializer(append([]SerializerOption{WithRank(ch.Rank())}, opts...)...)
		if err != nil {
			return err
		}
		for step := range steps {
			if err := s.PutProcessGroupIndex(io.Name(), []uint8{format.MethodPOSIX}); err != nil {
				return err
			}
			if err := put(s, io, ch.Rank(), step); err != nil {
				return err
			}
			if err := s.SerializeData(io, true); err != nil {
				return err
			}
		}

		md, err := s.AggregateCollectiveMetadata(ctx, ch)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		out.data[uint32(ch.Rank())] = slices.Clone(s.Data().Bytes()) //nolint:gosec
		if ch.Rank() == 0 {
			out.metadata, err = md.Bytes(s.Engine(), true)
		}

		return err
	})
	require.NoError(t, err)

	return out
}

// parse reads the metadata of w into a new IO.
func parse(t *testing.T, w written, opts ...DeserializerOption) (*Deserializer, *core.IO) {
	t.Helper()

	d, err := NewDeserializer(opts...)
	require.NoError(t, err)
	io := core.NewIO("in")
	require.NoError(t, d.ParseMetadata(w.metadata, io))

	return d, io
}

// readSelection reads info into memory laid out as dstBox and decodes it.
func readSelection[T encoding.Numeric](t *testing.T, d *Deserializer, w written, v *core.Variable, info core.BlockInfo, dstBox core.Box) []T {
	t.Helper()

	m, err := d.GetSubFileInfo(v, &info)
	require.NoError(t, err)

	dst := make([]byte, dstBox.Elements()*uint64(v.Type().Size())) //nolint:gosec
	for _, sfi := range m.All() {
		file, ok := w.data[sfi.FileIndex]
		require.True(t, ok, "sub-file %d", sfi.FileIndex)
		require.LessOrEqual(t, sfi.Seeks.End, uint64(len(file)))
		payload := slices.Clone(file[sfi.Seeks.Start:sfi.Seeks.End])
		require.NoError(t, d.ClipContiguousMemory(dst, dstBox, payload, sfi, v.Type()))
	}

	out := make([]T, dstBox.Elements())
	require.NoError(t, encoding.DecodeSlice(endian.HostEngine(), dst, out))

	return out
}

// variable returns the variable called name, defining it on first use.
func variable[T encoding.Element](io *core.IO, name string, shape, start, count core.Dims) (*core.Variable, error) {
	if v := io.InquireVariable(name); v != nil {
		return v, nil
	}

	return core.DefineVariable[T](io, name, shape, start, count, false)
}

// putBlock writes data as the block start+count of v.
func putBlock(s *Serializer, v *core.Variable, data any, start, count core.Dims) error {
	if v.ShapeID() != format.ShapeGlobalValue {
		if err := v.SetSelection(start, count); err != nil {
			return err
		}
	}
	info := v.NewBlockInfo(data)

	return s.PutVariable(v, &info)
}

// sequence returns n values of T derived from base+i.
func sequence[T encoding.Numeric](n, base int) []T {
	out := make([]T, n)
	for i := range out {
		x := base + i
		switch p := any(&out[i]).(type) {
		case *int8:
			*p = int8(x) //nolint:gosec
		case *int16:
			*p = int16(-x) //nolint:gosec
		case *int32:
			*p = int32(x * 1000) //nolint:gosec
		case *int64:
			*p = int64(x) << 33
		case *uint8:
			*p = uint8(x) //nolint:gosec
		case *uint16:
			*p = uint16(x) //nolint:gosec
		case *uint32:
			*p = uint32(x) * 7 //nolint:gosec
		case *uint64:
			*p = uint64(x) << 40 //nolint:gosec
		case *float32:
			*p = float32(x) / 4
		case *float64:
			*p = float64(x) * 1.5
		case *complex64:
			*p = complex(float32(x), float32(-x))
		case *complex128:
			*p = complex(float64(x), 0.5)
		}
	}

	return out
}

func foreignEngine() endian.EndianEngine {
	if endian.IsNativeLittleEndian() {
		return endian.GetBigEndianEngine()
	}

	return endian.GetLittleEndianEngine()
}
