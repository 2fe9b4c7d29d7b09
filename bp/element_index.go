package bp

import (
	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/section"
)

// SerialElementIndex accumulates the characteristic sets of one variable or
// attribute. A new block appends a set; it never creates a new entry.
type SerialElementIndex struct {
	MemberID uint32
	Name     string
	DataType format.DataType
	// Sets holds the encoded characteristic sets in write order.
	Sets      []byte
	SetsCount uint64

	// relocated is the length of Sets already covered by Relocate.
	relocated int
}

// Header returns the index entry header for the accumulated sets.
func (e *SerialElementIndex) Header() section.ElementIndexHeader {
	return section.ElementIndexHeader{
		MemberID:  e.MemberID,
		Name:      e.Name,
		DataType:  e.DataType,
		SetsCount: e.SetsCount,
	}
}

// AppendSet adds one encoded characteristic set.
func (e *SerialElementIndex) AppendSet(set []byte) {
	e.Sets = append(e.Sets, set...)
	e.SetsCount++
}

// WriteTo appends the complete index entry to b.
func (e *SerialElementIndex) WriteTo(b *buffer.Buffer) error {
	return section.WriteElementIndex(b, e.Header(), e.Sets)
}

// relocate shifts the offsets of the sets written since the previous call.
func (e *SerialElementIndex) relocate(engine endian.EndianEngine, kind section.SetKind, delta uint64, fileIndex uint32) error {
	c := buffer.NewCursor(e.Sets, engine)
	c.Seek(e.relocated)
	for c.Pos() < len(e.Sets) {
		if err := section.ShiftOffsets(e.Sets, c, kind, e.DataType, delta, fileIndex); err != nil {
			return err
		}
	}
	e.relocated = len(e.Sets)

	return nil
}
