// Package buffer provides the growable byte arena every BP record is written
// through, the reserve-then-backpatch Placeholder used for length fields, and
// the bounds-checked Cursor used to decode records.
//
// # Positions
//
// A Buffer tracks two write positions:
//
//   - Position: the next write offset inside this buffer instance.
//   - AbsolutePosition: the offset of Position in the logical output stream.
//     It survives Reset, which is called after the buffer has been flushed to
//     the transport layer, so offsets recorded in metadata stay valid across
//     flushes.
//
// Readers additionally use LastUpdatedPosition to remember how far an
// incremental re-parse progressed.
//
// # Byte order
//
// Multi-byte fields are encoded with the buffer's EndianEngine. All typed Put
// helpers funnel through CopyTo, and all Cursor reads funnel through CopyFrom,
// so the width and byte order rules live in one place.
package buffer

import (
	"fmt"
	"math"

	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/internal/options"
)

const (
	// MinBufferSize is the smallest initial and maximum size accepted.
	MinBufferSize = 16 * 1024
	// DefaultGrowthFactor is the geometric growth factor used when none is set.
	DefaultGrowthFactor = 1.05
)

// ResizeResult is the outcome of ResizeFor.
type ResizeResult uint8

const (
	// ResizeUnchanged means the buffer already had room.
	ResizeUnchanged ResizeResult = iota
	// ResizeSuccess means the buffer grew.
	ResizeSuccess
	// ResizeFlush means the request exceeds MaxSize: the caller must flush
	// the buffer to the transport layer and Reset it before writing.
	ResizeFlush
)

func (r ResizeResult) String() string {
	switch r {
	case ResizeUnchanged:
		return "Unchanged"
	case ResizeSuccess:
		return "Success"
	case ResizeFlush:
		return "Flush"
	default:
		return "Unknown"
	}
}

// Buffer is a contiguous growable byte region with a write cursor.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	data   []byte
	engine endian.EndianEngine

	// Position is the next write offset within data.
	Position int
	// LastUpdatedPosition is the read-side progress marker.
	LastUpdatedPosition int

	base         uint64
	growthFactor float64
	maxSize      int
}

// Option configures a Buffer.
type Option = options.Option[*Buffer]

// WithInitialSize preallocates size bytes.
func WithInitialSize(size int) Option {
	return options.Named("WithInitialSize", func(b *Buffer) error {
		if size < 0 {
			return fmt.Errorf("%w: initial size %d", errs.ErrInvalidArgument, size)
		}
		b.data = make([]byte, size)

		return nil
	})
}

// WithGrowthFactor sets the geometric growth factor; it must be greater than 1.
func WithGrowthFactor(factor float64) Option {
	return options.Named("WithGrowthFactor", func(b *Buffer) error {
		if factor <= 1 || math.IsNaN(factor) || math.IsInf(factor, 0) {
			return fmt.Errorf("%w: growth factor %v must be > 1", errs.ErrInvalidArgument, factor)
		}
		b.growthFactor = factor

		return nil
	})
}

// WithMaxSize caps growth; 0 means unlimited.
func WithMaxSize(size int) Option {
	return options.Named("WithMaxSize", func(b *Buffer) error {
		if size < 0 {
			return fmt.Errorf("%w: max size %d", errs.ErrInvalidArgument, size)
		}
		b.maxSize = size

		return nil
	})
}

// New creates a Buffer encoding multi-byte fields with engine.
//
// Parameters:
//   - engine: byte order of every multi-byte field written
//   - opts: WithInitialSize, WithGrowthFactor, WithMaxSize
//
// Returns:
//   - *Buffer: empty buffer at position 0
//   - error: invalid option values
func New(engine endian.EndianEngine, opts ...Option) (*Buffer, error) {
	b := &Buffer{
		engine:       engine,
		growthFactor: DefaultGrowthFactor,
	}
	if err := options.Apply(b, opts...); err != nil {
		return nil, err
	}
	if b.maxSize > 0 && len(b.data) > b.maxSize {
		return nil, fmt.Errorf("%w: initial size %d exceeds max size %d", errs.ErrInvalidArgument, len(b.data), b.maxSize)
	}

	return b, nil
}

// Wrap creates a read-only view of data for decoding; Position starts at 0.
func Wrap(data []byte, engine endian.EndianEngine) *Buffer {
	return &Buffer{data: data, engine: engine, growthFactor: DefaultGrowthFactor}
}

// Engine returns the byte order of the buffer.
func (b *Buffer) Engine() endian.EndianEngine {
	return b.engine
}

// Bytes returns the written region data[:Position].
func (b *Buffer) Bytes() []byte {
	return b.data[:b.Position]
}

// Data returns the whole allocated region.
func (b *Buffer) Data() []byte {
	return b.data
}

// Size returns the allocated size.
func (b *Buffer) Size() int {
	return len(b.data)
}

// MaxSize returns the growth cap, 0 when unlimited.
func (b *Buffer) MaxSize() int {
	return b.maxSize
}

// AbsolutePosition returns the stream offset of Position.
func (b *Buffer) AbsolutePosition() uint64 {
	return b.base + uint64(b.Position) //nolint:gosec
}

// SetAbsoluteBase sets the stream offset of data[0].
func (b *Buffer) SetAbsoluteBase(base uint64) {
	b.base = base
}

// Reset rewinds Position to 0. When keepAbsolute is true the bytes written so
// far are accounted as flushed and AbsolutePosition is unchanged; otherwise
// the stream offset also restarts at 0.
func (b *Buffer) Reset(keepAbsolute bool) {
	if keepAbsolute {
		b.base += uint64(b.Position) //nolint:gosec
	} else {
		b.base = 0
	}
	b.Position = 0
	b.LastUpdatedPosition = 0
}

// Resize grows the allocation to at least newSize bytes, zero-filling the new
// region. It never shrinks.
//
// Parameters:
//   - newSize: required allocation size
//   - hint: caller context embedded in the error message
//
// Returns:
//   - error: ErrBufferCapacity when newSize is negative or above MaxSize
func (b *Buffer) Resize(newSize int, hint string) error {
	if newSize < 0 || (b.maxSize > 0 && newSize > b.maxSize) {
		return fmt.Errorf("%w: cannot resize to %d bytes (max %d) %s", errs.ErrBufferCapacity, newSize, b.maxSize, hint)
	}
	if newSize <= len(b.data) {
		return nil
	}

	grown := make([]byte, newSize)
	copy(grown, b.data)
	b.data = grown

	return nil
}

// ResizeFor makes room for extra bytes past Position, growing geometrically.
//
// Returns:
//   - ResizeResult: ResizeFlush when Position+extra exceeds MaxSize; the
//     buffer is left untouched in that case
//   - error: ErrBufferCapacity for negative sizes
func (b *Buffer) ResizeFor(extra int) (ResizeResult, error) {
	if extra < 0 {
		return ResizeUnchanged, fmt.Errorf("%w: negative request %d", errs.ErrBufferCapacity, extra)
	}
	required := b.Position + extra
	if required <= len(b.data) {
		return ResizeUnchanged, nil
	}
	if b.maxSize > 0 && required > b.maxSize {
		return ResizeFlush, nil
	}

	if err := b.Resize(b.growTarget(required), "in call to ResizeFor"); err != nil {
		return ResizeUnchanged, err
	}

	return ResizeSuccess, nil
}

func (b *Buffer) growTarget(required int) int {
	target := int(float64(len(b.data)) * b.growthFactor)
	if target < required {
		target = required
	}
	if b.maxSize > 0 && target > b.maxSize {
		target = b.maxSize
	}

	return target
}

// ensure grows the buffer for n more bytes ignoring MaxSize. Record writers
// call it after the engine already decided whether a flush is needed.
func (b *Buffer) ensure(n int) {
	required := b.Position + n
	if required <= len(b.data) {
		return
	}
	target := int(float64(len(b.data)) * b.growthFactor)
	if target < required {
		target = required
	}
	grown := make([]byte, target)
	copy(grown, b.data)
	b.data = grown
}

// CopyTo copies src at Position and advances Position by len(src).
func (b *Buffer) CopyTo(src []byte) {
	b.ensure(len(src))
	b.Position += copy(b.data[b.Position:], src)
}

// CopyToAt copies src at pos without moving Position. The region must have
// been written before.
func (b *Buffer) CopyToAt(pos int, src []byte) {
	copy(b.data[pos:pos+len(src)], src)
}

// PutZeros writes n zero bytes.
func (b *Buffer) PutZeros(n int) {
	b.ensure(n)
	clear(b.data[b.Position : b.Position+n])
	b.Position += n
}

// PutU8 writes one byte.
func (b *Buffer) PutU8(v uint8) {
	b.CopyTo([]byte{v})
}

// PutU16 writes v with the buffer engine.
func (b *Buffer) PutU16(v uint16) {
	var s [2]byte
	b.engine.PutUint16(s[:], v)
	b.CopyTo(s[:])
}

// PutU32 writes v with the buffer engine.
func (b *Buffer) PutU32(v uint32) {
	var s [4]byte
	b.engine.PutUint32(s[:], v)
	b.CopyTo(s[:])
}

// PutU64 writes v with the buffer engine.
func (b *Buffer) PutU64(v uint64) {
	var s [8]byte
	b.engine.PutUint64(s[:], v)
	b.CopyTo(s[:])
}

// MaxNameLength is the longest name a u16 length prefix can describe.
const MaxNameLength = math.MaxUint16

// PutName writes a name record: a u16 length followed by the bytes.
func (b *Buffer) PutName(s string) error {
	if len(s) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", errs.ErrNameTooLong, len(s))
	}
	b.PutU16(uint16(len(s))) //nolint:gosec
	b.CopyTo([]byte(s))

	return nil
}
