package bp

import (
	"fmt"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/internal/options"
)

// SerializerOption configures a Serializer.
type SerializerOption = options.Option[*Serializer]

// DeserializerOption configures a Deserializer.
type DeserializerOption = options.Option[*Deserializer]

// WithEngine sets the byte order of everything the serializer writes. The
// default is the host byte order.
func WithEngine(engine endian.EndianEngine) SerializerOption {
	return options.Named("WithEngine", func(s *Serializer) error {
		if engine == nil {
			return fmt.Errorf("%w: nil engine", errs.ErrInvalidArgument)
		}
		s.engine = engine

		return nil
	})
}

// WithRank sets the writer rank, stored as the process id of every process
// group and, until Relocate says otherwise, as the file index of every block.
func WithRank(rank int) SerializerOption {
	return options.Named("WithRank", func(s *Serializer) error {
		if rank < 0 {
			return fmt.Errorf("%w: rank %d", errs.ErrInvalidArgument, rank)
		}
		s.rank = uint32(rank) //nolint:gosec
		s.fileIndex = uint32(rank) //nolint:gosec

		return nil
	})
}

// WithThreads sets the number of goroutines used by the metadata merge.
func WithThreads(n int) SerializerOption {
	return options.NoError(func(s *Serializer) {
		s.threads = n
	})
}

// WithColumnMajor declares that application memory is column-major.
func WithColumnMajor(columnMajor bool) SerializerOption {
	return options.NoError(func(s *Serializer) {
		s.columnMajor = columnMajor
	})
}

// WithBufferOptions passes sizing options to the data buffer.
func WithBufferOptions(opts ...buffer.Option) SerializerOption {
	return options.NoError(func(s *Serializer) {
		s.bufferOpts = append(s.bufferOpts, opts...)
	})
}

// WithProfiler attaches a profiler that receives the serializer timers.
func WithProfiler(p *Profiler) SerializerOption {
	return options.NoError(func(s *Serializer) {
		s.profiler = p
	})
}

// WithByteReversal accepts streams written in the other byte order. Index
// fields are decoded with the stream engine and payload elements are
// reversed when clipped into destination memory.
func WithByteReversal(allow bool) DeserializerOption {
	return options.NoError(func(d *Deserializer) {
		d.allowReversal = allow
	})
}

// WithParseThreads sets the number of goroutines used to parse the
// variables index.
func WithParseThreads(n int) DeserializerOption {
	return options.NoError(func(d *Deserializer) {
		d.threads = n
	})
}

// WithHostColumnMajor declares that the reading application is column-major.
// Dimensions of streams written with the other majority are reversed.
func WithHostColumnMajor(columnMajor bool) DeserializerOption {
	return options.NoError(func(d *Deserializer) {
		d.hostColumnMajor = columnMajor
	})
}
