package compress

import (
	"fmt"
	"strings"

	"github.com/klauspost/compress/s2"

	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// S2Operator compresses payloads with S2 block encoding.
//
// The "level" parameter selects "default", "better" or "best".
type S2Operator struct{}

var _ Operator = S2Operator{}

// Type returns format.CompressionS2.
func (S2Operator) Type() format.CompressionType { return format.CompressionS2 }

// Compress encodes data as one S2 block.
func (S2Operator) Compress(data []byte, params map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	switch level := strings.ToLower(params["level"]); level {
	case "", "default":
		return s2.Encode(nil, data), nil
	case "better":
		return s2.EncodeBetter(nil, data), nil
	case "best":
		return s2.EncodeBest(nil, data), nil
	default:
		return nil, fmt.Errorf("%w: s2 level %q", errs.ErrInvalidParameter, level)
	}
}

// Decompress decodes one S2 block. The block header carries the decoded
// length, so preSize is only checked.
func (S2Operator) Decompress(data []byte, preSize uint64) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, operatorError(format.CompressionS2, "decompress", err)
	}
	if preSize != 0 && uint64(len(out)) != preSize {
		return nil, fmt.Errorf("%w: s2 decoded %d bytes, expected %d", errs.ErrOperatorFailed, len(out), preSize)
	}

	return out, nil
}

// MaxCompressedSize returns s2.MaxEncodedLen(n).
func (S2Operator) MaxCompressedSize(n int) int {
	return s2.MaxEncodedLen(n)
}
