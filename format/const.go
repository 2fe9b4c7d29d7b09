package format

// Format constants of the BP version 3 layout.
const (
	// Version is the format version written to the last minifooter byte.
	Version uint8 = 3
	// MinSupportedVersion is the oldest version a reader accepts.
	MinSupportedVersion uint8 = 3

	// VersionMajor, VersionMinor and VersionPatch are stamped into the
	// minifooter version tag.
	VersionMajor = '2'
	VersionMinor = '4'
	VersionPatch = '0'

	// FirstTimeStep is the time step of the first PG. Step indices exposed to
	// callers are zero based: step = TimeStep - FirstTimeStep.
	FirstTimeStep uint32 = 1

	// DefaultGroupName is used as the PG name prefix and element group name.
	DefaultGroupName = ""

	// ColumnMajorYes and ColumnMajorNo are the PG column-major flag bytes.
	ColumnMajorYes byte = 'y'
	ColumnMajorNo  byte = 'n'

	// MethodPOSIX is the only transport method id recorded in PGs.
	MethodPOSIX uint8 = 0
)
