// Package bp implements the BP3 container: the Serializer that turns puts
// into process groups and a metadata index, the collective aggregation that
// merges the indices of many ranks into one metadata file, and the
// Deserializer that rebuilds variable definitions and resolves reads into
// sub-file byte ranges.
//
// A data stream is a sequence of process groups, one per rank and step:
//
//	[pg length u64][pg header][vars count u32][vars length u64]
//	    [entry length u64][var entry header][characteristics][payload] ...
//	[attrs count u32][attrs length u64]
//	    [attr entry] ...
//
// A metadata stream holds the three indices followed by the minifooter:
//
//	[pg count u64][pg length u64][pg index entries]
//	[vars count u32][vars length u64][variable index entries]
//	[attrs count u32][attrs length u64][attribute index entries]
//	[minifooter, 56 bytes]
//
// Every offset recorded in the indices is an absolute position in the data
// sub-file named by the file index characteristic.
package bp
