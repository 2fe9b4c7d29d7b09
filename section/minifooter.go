package section

import (
	"fmt"
	"strings"

	"github.com/arloliu/bpio/buffer"
	"github.com/arloliu/bpio/endian"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// Minifooter is the fixed trailer of a metadata stream.
//
// Invariant for a valid footer: PGIndexStart < VarsIndexStart < AttrsIndexStart
// < stream size.
type Minifooter struct {
	PGIndexStart    uint64
	VarsIndexStart  uint64
	AttrsIndexStart uint64
	// Engine is the byte order of every multi-byte field in the stream.
	Engine      endian.EndianEngine
	HasSubFiles bool
	Version     uint8
	// VersionTag is the tag with padding trimmed.
	VersionTag string
}

// IsBigEndian reports whether the stream was written big endian.
func (m Minifooter) IsBigEndian() bool {
	return endian.FlagOf(m.Engine) == endian.BigEndianFlag
}

// NeedsByteReversal reports whether the stream byte order differs from the host.
func (m Minifooter) NeedsByteReversal() bool {
	return !endian.CompareNativeEndian(m.Engine)
}

// Validate checks the index ordering invariant against the stream size.
func (m Minifooter) Validate(streamSize uint64) error {
	if m.PGIndexStart < m.VarsIndexStart && m.VarsIndexStart < m.AttrsIndexStart && m.AttrsIndexStart < streamSize {
		return nil
	}

	return fmt.Errorf("%w: index starts pg=%d vars=%d attrs=%d in %d bytes",
		errs.ErrInvalidMinifooter, m.PGIndexStart, m.VarsIndexStart, m.AttrsIndexStart, streamSize)
}

// WriteMinifooter appends the minifooter to b using the engine of b.
//
// Parameters:
//   - b: metadata buffer, positioned right after the attributes index
//   - pgStart, varsStart, attrsStart: absolute index start offsets
//   - hasSubFiles: whether payloads live in data sub-files
func WriteMinifooter(b *buffer.Buffer, pgStart, varsStart, attrsStart uint64, hasSubFiles bool) {
	tag := make([]byte, VersionTagFieldSize)
	copy(tag, VersionTag)
	for i := len(VersionTag); i < VersionTagSize; i++ {
		tag[i] = ' '
	}
	tag[VersionTagSize] = format.VersionMajor
	tag[VersionTagSize+1] = format.VersionMinor
	tag[VersionTagSize+2] = format.VersionPatch
	tag[VersionTagSize+3] = ' '
	b.CopyTo(tag)

	b.PutU64(pgStart)
	b.PutU64(varsStart)
	b.PutU64(attrsStart)

	b.PutU8(endian.FlagOf(b.Engine()))
	b.PutU8(0)
	if hasSubFiles {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	b.PutU8(format.Version)
}

// ParseMinifooter decodes the minifooter at the end of data.
//
// The version byte is checked first, then the endianness flag, then the
// index offsets are decoded with the stream's engine and validated.
//
// Parameters:
//   - data: complete metadata stream
//   - allowReversal: accept a byte order different from the host's
//
// Returns:
//   - Minifooter: decoded trailer
//   - error: ErrBufferTooShort, ErrUnsupportedVersion, ErrEndiannessMismatch or ErrInvalidMinifooter
func ParseMinifooter(data []byte, allowReversal bool) (Minifooter, error) {
	var m Minifooter
	if len(data) < MinifooterSize {
		return m, fmt.Errorf("%w: minifooter needs %d bytes, have %d", errs.ErrBufferTooShort, MinifooterSize, len(data))
	}

	footer := data[len(data)-MinifooterSize:]
	trailer := footer[MinifooterSize-MinifooterTrailerSize:]

	m.Version = trailer[3]
	if m.Version < format.MinSupportedVersion {
		return m, fmt.Errorf("%w: version %d, need at least %d", errs.ErrUnsupportedVersion, m.Version, format.MinSupportedVersion)
	}

	engine, err := endian.EngineFromFlag(trailer[0])
	if err != nil {
		return m, err
	}
	m.Engine = engine
	if m.NeedsByteReversal() && !allowReversal {
		return m, fmt.Errorf("%w: stream is %s, host is %s", errs.ErrEndiannessMismatch, engine, endian.HostEngine())
	}
	m.HasSubFiles = trailer[2] != 0
	m.VersionTag = strings.TrimRight(string(footer[:VersionTagSize]), " \x00")

	c := buffer.NewCursor(footer, engine)
	c.Seek(VersionTagFieldSize)
	m.PGIndexStart = c.U64()
	m.VarsIndexStart = c.U64()
	m.AttrsIndexStart = c.U64()
	if err := c.Err(); err != nil {
		return m, err
	}

	return m, m.Validate(uint64(len(data) - MinifooterSize)) //nolint:gosec
}
