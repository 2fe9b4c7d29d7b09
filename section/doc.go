// Package section implements the fixed binary records of the BP version 3
// layout.
//
// Every multi-byte field is written with the writer's EndianEngine; the
// engine in use is recorded once, in the minifooter, and readers decode the
// remaining records with the engine the minifooter names.
//
// # File Layout
//
// A metadata stream is the concatenation of four sections followed by the
// minifooter:
//
//	+----------------------+
//	| PG index             |  [count u64][length u64] PGIndexEntry...
//	+----------------------+
//	| Variables index      |  [count u32][length u64] element index entries
//	+----------------------+
//	| Attributes index     |  [count u32][length u64] element index entries
//	+----------------------+
//	| Minifooter (56)      |
//	+----------------------+
//
// # Minifooter Format
//
//	Bytes  | Field           | Type    | Description
//	-------|-----------------|---------|----------------------------------
//	0-23   | VersionTag      | [24]u8  | "ADIOS-BP v2.4.0" padded with spaces
//	24-27  | Version triplet | [4]u8   | major, minor, patch ASCII + pad
//	28-35  | PGIndexStart    | uint64  | absolute offset of the PG index
//	36-43  | VarsIndexStart  | uint64  | absolute offset of the variables index
//	44-51  | AttrsIndexStart | uint64  | absolute offset of the attributes index
//	52     | Endianness      | uint8   | 0 little endian, 1 big endian
//	53     | Reserved        | uint8   |
//	54     | SubFiles        | uint8   | 1 when data lives in sub-files
//	55     | Version         | uint8   | format version, 3
//
// Readers read the last four bytes first: the version is checked before any
// offset is interpreted.
//
// # PG Index Entry
//
//	[length u16][name][column-major u8][process id u32][time step name]
//	[time step u32][offset u64]
//
// Names are u16 length-prefixed. The length counts the bytes after the
// length field, so the absolute offset is always the last 8 bytes of an entry.
//
// # Element Index Entry
//
//	[length u32][member id u32][group name][name][path][data type u8]
//	[sets count u64][characteristic set]...
//
// A characteristic set is [count u8][length u32] followed by count items,
// each an id byte and an id-specific value:
//
//	ID | Item            | Value
//	---|-----------------|---------------------------------------------
//	0  | value           | typed value (scalars and attributes)
//	1  | min             | typed element
//	2  | max             | typed element
//	3  | offset          | u64 absolute offset of the entry in data
//	4  | dimensions      | [count u8][length u16][local, global, offset u64]...
//	6  | payload offset  | u64 absolute offset of the payload in data
//	7  | file index      | u32 sub-file holding the payload
//	8  | time index      | u32 time step, always the first item
//	11 | transform type  | [operator u8][pre-size u64][payload size u64]
//
// Sets copied between ranks are moved verbatim using their length field;
// only ShiftOffsets ever rewrites a set in place.
//
// # Data Records
//
// Inside the data stream a process group is written as a PGHeader framed by
// backpatched length fields, followed by variable entries (VarEntryHeader +
// characteristic set + payload) and attribute entries (AttrEntry).
package section
