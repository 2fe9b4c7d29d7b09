package section

import (
	"fmt"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// PGIndexEntry locates one process group in the data stream.
type PGIndexEntry struct {
	Name          string
	IsColumnMajor bool
	ProcessID     uint32
	TimeStepName  string
	TimeStep      uint32
	// Offset is the absolute offset of the PG length field in its data file.
	Offset uint64
}

// Write appends the entry to b as a u16 length-prefixed record.
func (e PGIndexEntry) Write(b *buffer.Buffer) error {
	return b.Record(2, func() error {
		if err := b.PutName(e.Name); err != nil {
			return err
		}
		b.PutU8(columnMajorByte(e.IsColumnMajor))
		b.PutU32(e.ProcessID)
		if err := b.PutName(e.TimeStepName); err != nil {
			return err
		}
		b.PutU32(e.TimeStep)
		b.PutU64(e.Offset)

		return nil
	})
}

// ParsePGIndexEntry decodes one entry at the cursor position and leaves the
// cursor right after it.
func ParsePGIndexEntry(c *buffer.Cursor) (PGIndexEntry, error) {
	var e PGIndexEntry

	length := int(c.U16())
	start := c.Pos()
	e.Name = c.Name()
	flag := c.U8()
	e.ProcessID = c.U32()
	e.TimeStepName = c.Name()
	e.TimeStep = c.U32()
	e.Offset = c.U64()
	if err := c.Err(); err != nil {
		return e, err
	}
	if c.Pos()-start != length {
		return e, fmt.Errorf("%w: pg index entry length %d, decoded %d bytes", errs.ErrCorruptedRecord, length, c.Pos()-start)
	}

	isColumnMajor, err := parseColumnMajorByte(flag)
	if err != nil {
		return e, err
	}
	e.IsColumnMajor = isColumnMajor

	return e, nil
}

// ParsePGIndex decodes a PG index section: [count u64][length u64] entries.
//
// Parameters:
//   - c: cursor positioned at the section start
//
// Returns:
//   - []PGIndexEntry: entries in stored order
//   - error: cursor errors or ErrCorruptedRecord when count or length disagree
func ParsePGIndex(c *buffer.Cursor) ([]PGIndexEntry, error) {
	count := c.U64()
	length := c.U64()
	if err := c.Err(); err != nil {
		return nil, err
	}
	if length > uint64(c.Remaining()) { //nolint:gosec
		return nil, fmt.Errorf("%w: pg index length %d exceeds %d remaining bytes", errs.ErrCorruptedRecord, length, c.Remaining())
	}

	end := c.Pos() + int(length) //nolint:gosec
	entries := make([]PGIndexEntry, 0, min(count, length/2+1))
	for c.Pos() < end {
		e, err := ParsePGIndexEntry(c)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if c.Pos() != end || uint64(len(entries)) != count {
		return nil, fmt.Errorf("%w: pg index declares %d entries in %d bytes, found %d", errs.ErrCorruptedRecord, count, length, len(entries))
	}

	return entries, nil
}

// ShiftPGIndexEntry adds delta to the offset of the entry at the cursor
// position, in place, and returns the entry size. data must be the slice c
// decodes.
func ShiftPGIndexEntry(data []byte, c *buffer.Cursor, delta uint64) (int, error) {
	start := c.Pos()
	length := int(c.U16())
	c.Skip(length)
	if err := c.Err(); err != nil {
		return 0, err
	}
	if length < 8 {
		return 0, fmt.Errorf("%w: pg index entry of %d bytes", errs.ErrCorruptedRecord, length)
	}

	engine := c.Engine()
	off := c.Pos() - 8
	engine.PutUint64(data[off:], engine.Uint64(data[off:])+delta)

	return c.Pos() - start, nil
}

func columnMajorByte(isColumnMajor bool) byte {
	if isColumnMajor {
		return format.ColumnMajorYes
	}

	return format.ColumnMajorNo
}

func parseColumnMajorByte(b byte) (bool, error) {
	switch b {
	case format.ColumnMajorYes:
		return true, nil
	case format.ColumnMajorNo:
		return false, nil
	default:
		return false, fmt.Errorf("%w: column-major flag %q", errs.ErrCorruptedRecord, b)
	}
}
