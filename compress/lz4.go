package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// maxLZ4Expansion bounds the output buffer when the decoded size is unknown.
const maxLZ4Expansion = 128 << 20

// LZ4Operator compresses payloads with the LZ4 block format.
type LZ4Operator struct{}

var _ Operator = LZ4Operator{}

// Type returns format.CompressionLZ4.
func (LZ4Operator) Type() format.CompressionType { return format.CompressionLZ4 }

// Compress encodes data as one LZ4 block.
func (LZ4Operator) Compress(data []byte, _ map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, operatorError(format.CompressionLZ4, "compress", err)
	}

	return dst[:n], nil
}

// Decompress decodes one LZ4 block.
//
// With a known preSize the output is allocated exactly once. Otherwise the
// buffer starts at four times the input and doubles on short-buffer errors
// up to a fixed limit.
func (LZ4Operator) Decompress(data []byte, preSize uint64) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if preSize > 0 {
		buf := make([]byte, preSize)
		n, err := lz4.UncompressBlock(data, buf)
		if err != nil {
			return nil, operatorError(format.CompressionLZ4, "decompress", err)
		}

		return buf[:n], nil
	}

	for size := len(data) * 4; size <= maxLZ4Expansion; size *= 2 {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(data, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, operatorError(format.CompressionLZ4, "decompress", err)
		}
	}

	return nil, fmt.Errorf("%w: lz4 output exceeds %d bytes", errs.ErrOperatorFailed, maxLZ4Expansion)
}

// MaxCompressedSize returns lz4.CompressBlockBound(n).
func (LZ4Operator) MaxCompressedSize(n int) int {
	return lz4.CompressBlockBound(n)
}
