package compress

import "github.com/arloliu/bpio/format"

const (
	defaultZstdLevel = 3
	minZstdLevel     = 1
	maxZstdLevel     = 22
)

// ZstdOperator compresses payloads as Zstandard frames.
//
// The "level" parameter takes the zstd command line levels 1..22 and
// defaults to 3.
type ZstdOperator struct{}

var _ Operator = ZstdOperator{}

// Type returns format.CompressionZstd.
func (ZstdOperator) Type() format.CompressionType { return format.CompressionZstd }

// Compress encodes data as one zstd frame.
func (ZstdOperator) Compress(data []byte, params map[string]string) ([]byte, error) {
	level, err := intParam(params, "level", defaultZstdLevel, minZstdLevel, maxZstdLevel)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	return zstdCompress(data, level)
}

// Decompress decodes one zstd frame.
func (ZstdOperator) Decompress(data []byte, preSize uint64) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	return zstdDecompress(data, preSize)
}

// MaxCompressedSize returns the ZSTD_COMPRESSBOUND of n.
func (ZstdOperator) MaxCompressedSize(n int) int {
	const smallLimit = 128 << 10
	bound := n + n>>8
	if n < smallLimit {
		bound += (smallLimit - n) >> 11
	}

	return bound
}
