package buffer

import (
	"fmt"
	"math"

	"github.com/arloliu/bpio/errs"
)

// Placeholder is a reserved fixed-width field whose value is only known
// after the content that follows it has been written.
//
//	ph := buf.Reserve(8)
//	writeContent(buf)
//	err := ph.PatchSpan() // length of everything written after the field
type Placeholder struct {
	buf   *Buffer
	pos   int
	width int
}

// Reserve writes width zero bytes and returns a Placeholder for them.
// Width must be 1, 2, 4 or 8.
func (b *Buffer) Reserve(width int) Placeholder {
	switch width {
	case 1, 2, 4, 8:
	default:
		panic(fmt.Sprintf("buffer: invalid placeholder width %d", width))
	}
	p := Placeholder{buf: b, pos: b.Position, width: width}
	b.PutZeros(width)

	return p
}

// Offset returns the buffer offset of the reserved field.
func (p Placeholder) Offset() int {
	return p.pos
}

// End returns the offset just past the reserved field.
func (p Placeholder) End() int {
	return p.pos + p.width
}

// Span returns the number of bytes written after the reserved field.
func (p Placeholder) Span() int {
	return p.buf.Position - p.End()
}

// Patch writes v into the reserved field using the buffer engine.
// It returns errs.ErrBufferCapacity, leaving the field untouched, when v does
// not fit the field width.
func (p Placeholder) Patch(v uint64) error {
	if v > p.Max() {
		return fmt.Errorf("%w: %d does not fit a %d-byte field", errs.ErrBufferCapacity, v, p.width)
	}

	var s [8]byte
	engine := p.buf.engine
	switch p.width {
	case 1:
		s[0] = uint8(v)
	case 2:
		engine.PutUint16(s[:], uint16(v))
	case 4:
		engine.PutUint32(s[:], uint32(v))
	case 8:
		engine.PutUint64(s[:], v)
	}
	p.buf.CopyToAt(p.pos, s[:p.width])

	return nil
}

// Max returns the largest value the field can hold.
func (p Placeholder) Max() uint64 {
	if p.width == 8 {
		return math.MaxUint64
	}

	return 1<<(8*p.width) - 1
}

// PatchSpan patches the field with Span().
func (p Placeholder) PatchSpan() error {
	return p.Patch(uint64(p.Span())) //nolint:gosec
}

// Rollback discards the reserved field and everything written after it.
func (p Placeholder) Rollback() {
	p.buf.Position = p.pos
}

// Record writes a length-prefixed record: it reserves a width-byte length
// field, runs fn, and patches the field with the number of bytes fn wrote.
// If fn fails, or writes more than the field can count, the record is
// rolled back and the error returned.
func (b *Buffer) Record(width int, fn func() error) error {
	p := b.Reserve(width)
	if err := fn(); err != nil {
		p.Rollback()
		return err
	}
	if err := p.PatchSpan(); err != nil {
		p.Rollback()
		return err
	}

	return nil
}
