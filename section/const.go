package section

// Characteristic item ids.
const (
	CharValue         uint8 = 0
	CharMin           uint8 = 1
	CharMax           uint8 = 2
	CharOffset        uint8 = 3
	CharDimensions    uint8 = 4
	CharPayloadOffset uint8 = 6
	CharFileIndex     uint8 = 7
	CharTimeIndex     uint8 = 8
	CharTransformType uint8 = 11
)

// record sizes in bytes
const (
	MinifooterSize         = 56 // fixed minifooter size
	VersionTagSize         = 24 // padded version tag
	VersionTagFieldSize    = 28 // version tag plus version triplet
	MinifooterTrailerSize  = 4  // endianness, reserved, sub-files and version bytes
	PGIndexHeaderSize      = 16 // [count u64][length u64]
	ElementIndexHeaderSize = 12 // [count u32][length u64]
	CharSetHeaderSize      = 5  // [count u8][length u32]
	DimensionSize          = 24 // local, global, offset as u64
	DataDimensionSize      = 27 // local, global, offset each prefixed with 'n'
	TransformSize          = 17 // [operator u8][pre-size u64][payload size u64]
	MetadataIndexSize      = 64 // md.idx header
)

// VersionTag is the human readable tag at the start of the minifooter.
const VersionTag = "ADIOS-BP v2.4.0"

// notVariableRef marks a dimension or attribute value as a literal rather
// than a reference to another variable.
const notVariableRef byte = 'n'
