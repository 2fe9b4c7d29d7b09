// Package compress provides the operators that transform variable payloads
// before they are written to a data file.
//
// An operator is selected per variable by adding a core.Operation. The
// serializer records the operator type together with the pre-transform and
// transformed sizes in the block characteristics, so a reader can pick the
// inverse operator and size its output buffer without scanning the payload.
//
// # Supported Operators
//
//   - none: payload stored as is
//   - zstd: Zstandard, accepts a "level" parameter (1..22)
//   - s2: S2, accepts a "level" parameter ("default", "better", "best")
//   - lz4: LZ4 block format
//
// The zstd operator uses github.com/klauspost/compress/zstd. Building with
// the gozstd tag and cgo enabled switches it to the cgo binding from
// github.com/valyala/gozstd; both produce standard zstd frames.
//
// # Usage
//
//	op, err := compress.Get(format.CompressionZstd)
//	if err != nil {
//	    return err
//	}
//	packed, err := op.Compress(payload, map[string]string{"level": "3"})
//	// ...
//	payload, err = op.Decompress(packed, uint64(len(payload)))
//
// All operators are safe for concurrent use.
package compress
