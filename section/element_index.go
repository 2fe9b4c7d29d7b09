package section

import (
	"fmt"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// ElementIndexHeader is the fixed prefix of a variable or attribute index entry.
type ElementIndexHeader struct {
	// Length counts the bytes after the length field, sets included.
	Length    uint32
	MemberID  uint32
	GroupName string
	Name      string
	Path      string
	DataType  format.DataType
	SetsCount uint64
}

// EncodedSize returns the bytes the header occupies after its length field.
func (h ElementIndexHeader) EncodedSize() int {
	return 4 + 2 + len(h.GroupName) + 2 + len(h.Name) + 2 + len(h.Path) + 1 + 8
}

// WriteElementIndex appends a complete index entry: the header followed by
// sets, the concatenated characteristic sets. Length is computed from sets.
//
// Parameters:
//   - b: destination buffer
//   - h: header fields; Length is ignored
//   - sets: encoded characteristic sets
//
// Returns:
//   - error: ErrNameTooLong, or ErrBufferCapacity when the entry exceeds a u32 length
func WriteElementIndex(b *buffer.Buffer, h ElementIndexHeader, sets []byte) error {
	length := uint64(h.EncodedSize()) + uint64(len(sets)) //nolint:gosec
	if length > uint64(^uint32(0)) {
		return fmt.Errorf("%w: index entry %q of %d bytes", errs.ErrBufferCapacity, h.Name, length)
	}

	return b.Record(4, func() error {
		b.PutU32(h.MemberID)
		for _, name := range [...]string{h.GroupName, h.Name, h.Path} {
			if err := b.PutName(name); err != nil {
				return err
			}
		}
		b.PutU8(uint8(h.DataType))
		b.PutU64(h.SetsCount)
		b.CopyTo(sets)

		return nil
	})
}

// ParseElementIndexHeader decodes the header at the cursor position and
// leaves the cursor at the first characteristic set. Only the fixed prefix
// is read; callers skip the rest of the entry using Length.
func ParseElementIndexHeader(c *buffer.Cursor) (ElementIndexHeader, error) {
	var h ElementIndexHeader

	h.Length = c.U32()
	start := c.Pos()
	h.MemberID = c.U32()
	h.GroupName = c.Name()
	h.Name = c.Name()
	h.Path = c.Name()
	h.DataType = format.DataType(c.U8())
	h.SetsCount = c.U64()
	if err := c.Err(); err != nil {
		return h, err
	}

	if int(h.Length) > c.Len()-start {
		return h, fmt.Errorf("%w: index entry %q length %d exceeds %d remaining bytes", errs.ErrCorruptedRecord, h.Name, h.Length, c.Len()-start)
	}
	if c.Pos()-start > int(h.Length) {
		return h, fmt.Errorf("%w: index entry %q header overruns its length %d", errs.ErrCorruptedRecord, h.Name, h.Length)
	}

	return h, nil
}

// IndexSectionHeader is the prefix of the variables and attributes index
// sections: [count u32][length u64].
type IndexSectionHeader struct {
	Count  uint32
	Length uint64
}

// ParseIndexSectionHeader decodes the section prefix at the cursor position.
func ParseIndexSectionHeader(c *buffer.Cursor) (IndexSectionHeader, error) {
	h := IndexSectionHeader{Count: c.U32(), Length: c.U64()}
	if err := c.Err(); err != nil {
		return h, err
	}
	if h.Length > uint64(c.Remaining()) { //nolint:gosec
		return h, fmt.Errorf("%w: index section length %d exceeds %d remaining bytes", errs.ErrCorruptedRecord, h.Length, c.Remaining())
	}

	return h, nil
}

// EntryRange is the byte range of one encoded index entry, length field included.
type EntryRange struct {
	Start int
	End   int
}

// LocateEntries walks an index section using only the entry length fields
// and returns the range of every entry. No entry content is interpreted, so
// the ranges can be handed to concurrent parsers.
//
// Parameters:
//   - c: cursor positioned at the section prefix
//
// Returns:
//   - []EntryRange: one range per entry in stored order; the cursor ends after the section
//   - error: ErrCorruptedRecord when the lengths do not tile the section
func LocateEntries(c *buffer.Cursor) ([]EntryRange, error) {
	h, err := ParseIndexSectionHeader(c)
	if err != nil {
		return nil, err
	}

	end := c.Pos() + int(h.Length) //nolint:gosec
	ranges := make([]EntryRange, 0, min(uint64(h.Count), h.Length/4))
	for c.Pos() < end {
		start := c.Pos()
		length := int(c.U32())
		c.Skip(length)
		if err := c.Err(); err != nil {
			return nil, err
		}
		ranges = append(ranges, EntryRange{Start: start, End: c.Pos()})
	}
	if c.Pos() != end || len(ranges) != int(h.Count) {
		return nil, fmt.Errorf("%w: index declares %d entries in %d bytes, found %d", errs.ErrCorruptedRecord, h.Count, h.Length, len(ranges))
	}

	return ranges, nil
}
