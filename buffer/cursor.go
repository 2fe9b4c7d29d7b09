package buffer

import (
	"fmt"

	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
)

// Cursor decodes fields from a byte slice with a sticky error.
//
// Reads past the end set the error once and return zero values afterwards,
// so record decoders can read a whole record and check Err at the end.
type Cursor struct {
	data   []byte
	pos    int
	engine endian.EndianEngine
	err    error
}

// NewCursor creates a cursor over data decoding with engine.
func NewCursor(data []byte, engine endian.EndianEngine) *Cursor {
	return &Cursor{data: data, engine: engine}
}

// Engine returns the byte order used for decoding.
func (c *Cursor) Engine() endian.EndianEngine {
	return c.engine
}

// Pos returns the current offset.
func (c *Cursor) Pos() int {
	return c.pos
}

// Len returns the size of the underlying data.
func (c *Cursor) Len() int {
	return len(c.data)
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.data) - c.pos
}

// Err returns the first error encountered.
func (c *Cursor) Err() error {
	return c.err
}

// Fail records err unless an error is already set.
func (c *Cursor) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Seek moves to pos.
func (c *Cursor) Seek(pos int) {
	if pos < 0 || pos > len(c.data) {
		c.Fail(fmt.Errorf("%w: seek to %d of %d", errs.ErrBufferTooShort, pos, len(c.data)))
		return
	}
	c.pos = pos
}

// Skip advances by n bytes.
func (c *Cursor) Skip(n int) {
	c.Seek(c.pos + n)
}

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.data) {
		c.Fail(fmt.Errorf("%w: need %d bytes at %d, have %d", errs.ErrBufferTooShort, n, c.pos, len(c.data)-c.pos))
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n

	return b
}

// CopyFrom copies len(dst) bytes into dst and advances.
func (c *Cursor) CopyFrom(dst []byte) {
	if b := c.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

// Bytes returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) []byte {
	return c.take(n)
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	var s [1]byte
	c.CopyFrom(s[:])

	return s[0]
}

// U16 reads a 16-bit field.
func (c *Cursor) U16() uint16 {
	var s [2]byte
	c.CopyFrom(s[:])

	return c.engine.Uint16(s[:])
}

// U32 reads a 32-bit field.
func (c *Cursor) U32() uint32 {
	var s [4]byte
	c.CopyFrom(s[:])

	return c.engine.Uint32(s[:])
}

// U64 reads a 64-bit field.
func (c *Cursor) U64() uint64 {
	var s [8]byte
	c.CopyFrom(s[:])

	return c.engine.Uint64(s[:])
}

// Name reads a name record.
func (c *Cursor) Name() string {
	n := int(c.U16())
	b := c.take(n)
	if b == nil {
		return ""
	}

	return string(b)
}
