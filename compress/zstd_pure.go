//go:build !(cgo && gozstd)

package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/arloliu/bpio/format"
)

// zstdDecoderPool pools zstd decoders. DecodeAll is stateless, so a decoder
// can go back to the pool even after a failed call.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}

		return decoder
	},
}

// zstdEncoderPools holds one encoder pool per klauspost speed level.
var zstdEncoderPools [zstd.SpeedBestCompression + 1]sync.Pool

func init() {
	for level := zstd.SpeedFastest; level <= zstd.SpeedBestCompression; level++ {
		zstdEncoderPools[level].New = func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderCRC(false),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
			}

			return encoder
		}
	}
}

func zstdCompress(data []byte, level int) ([]byte, error) {
	speed := zstd.EncoderLevelFromZstd(level)
	encoder, _ := zstdEncoderPools[speed].Get().(*zstd.Encoder)
	defer zstdEncoderPools[speed].Put(encoder)

	return encoder.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte, preSize uint64) ([]byte, error) {
	decoder, _ := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	out, err := decoder.DecodeAll(data, make([]byte, 0, preSize))
	if err != nil {
		return nil, operatorError(format.CompressionZstd, "decompress", err)
	}

	return out, nil
}
