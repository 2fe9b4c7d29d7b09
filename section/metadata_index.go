package section

import (
	"fmt"
	"strings"

	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
	"github.com/arloliu/bpio/internal/hash"
)

// MetadataIndexTag identifies an md.idx file.
const MetadataIndexTag = "BPIO metadata index"

// MetadataIndex is the 64-byte header of the md.idx file a writer rewrites
// after every step. Readers use it to tell a live writer from a finished one
// and to detect a metadata file caught in the middle of a rewrite.
//
//	Bytes  | Field          | Type   | Description
//	-------|----------------|--------|----------------------------------
//	0-23   | Tag            | [24]u8 | MetadataIndexTag padded with spaces
//	24     | Version        | uint8  | format version
//	25     | Endianness     | uint8  | 0 little endian, 1 big endian
//	26     | Active         | uint8  | 1 while the writer is open
//	27-31  | Reserved       |        |
//	32-39  | Steps          | uint64 | steps in the metadata file
//	40-47  | MetadataLength | uint64 | size of the metadata file
//	48-55  | Checksum       | uint64 | xxHash64 of the metadata file
//	56-63  | Reserved       |        |
type MetadataIndex struct {
	Version        uint8
	Engine         endian.EndianEngine
	Active         bool
	Steps          uint64
	MetadataLength uint64
	Checksum       uint64
}

// NewMetadataIndex describes metadata written with engine.
func NewMetadataIndex(engine endian.EndianEngine, active bool, steps uint64, metadata []byte) MetadataIndex {
	return MetadataIndex{
		Version:        format.Version,
		Engine:         engine,
		Active:         active,
		Steps:          steps,
		MetadataLength: uint64(len(metadata)),
		Checksum:       hash.Bytes(metadata),
	}
}

// Bytes encodes the header.
func (m MetadataIndex) Bytes() []byte {
	out := make([]byte, MetadataIndexSize)
	copy(out, MetadataIndexTag)
	for i := len(MetadataIndexTag); i < VersionTagSize; i++ {
		out[i] = ' '
	}
	out[24] = m.Version
	out[25] = endian.FlagOf(m.Engine)
	if m.Active {
		out[26] = 1
	}
	m.Engine.PutUint64(out[32:], m.Steps)
	m.Engine.PutUint64(out[40:], m.MetadataLength)
	m.Engine.PutUint64(out[48:], m.Checksum)

	return out
}

// Matches reports whether metadata is the complete file the header describes.
func (m MetadataIndex) Matches(metadata []byte) bool {
	return uint64(len(metadata)) == m.MetadataLength && hash.Bytes(metadata) == m.Checksum
}

// ParseMetadataIndex decodes an md.idx header.
//
// Returns:
//   - MetadataIndex: decoded header
//   - error: ErrBufferTooShort, ErrCorruptedRecord for a wrong tag,
//     ErrUnsupportedVersion, or ErrInvalidMinifooter for a bad endianness byte
func ParseMetadataIndex(data []byte) (MetadataIndex, error) {
	var m MetadataIndex
	if len(data) < MetadataIndexSize {
		return m, fmt.Errorf("%w: metadata index needs %d bytes, have %d", errs.ErrBufferTooShort, MetadataIndexSize, len(data))
	}
	if tag := strings.TrimRight(string(data[:VersionTagSize]), " "); tag != MetadataIndexTag {
		return m, fmt.Errorf("%w: metadata index tag %q", errs.ErrCorruptedRecord, tag)
	}

	m.Version = data[24]
	if m.Version < format.MinSupportedVersion {
		return m, fmt.Errorf("%w: metadata index version %d", errs.ErrUnsupportedVersion, m.Version)
	}
	engine, err := endian.EngineFromFlag(data[25])
	if err != nil {
		return m, err
	}
	m.Engine = engine
	m.Active = data[26] != 0
	m.Steps = engine.Uint64(data[32:])
	m.MetadataLength = engine.Uint64(data[40:])
	m.Checksum = engine.Uint64(data[48:])

	return m, nil
}
