//go:build cgo && gozstd

package compress

import (
	"github.com/valyala/gozstd"

	"github.com/arloliu/bpio/format"
)

func zstdCompress(data []byte, level int) ([]byte, error) {
	return gozstd.CompressLevel(nil, data, level), nil
}

func zstdDecompress(data []byte, preSize uint64) ([]byte, error) {
	out, err := gozstd.Decompress(make([]byte, 0, preSize), data)
	if err != nil {
		return nil, operatorError(format.CompressionZstd, "decompress", err)
	}

	return out, nil
}
