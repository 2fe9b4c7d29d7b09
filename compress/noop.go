package compress

import "github.com/arloliu/bpio/format"

// NoneOperator stores payloads unchanged.
//
// Compress and Decompress return the input slice itself, so callers must not
// modify data while the result is in use.
type NoneOperator struct{}

var _ Operator = NoneOperator{}

// Type returns format.CompressionNone.
func (NoneOperator) Type() format.CompressionType { return format.CompressionNone }

// Compress returns data as is.
func (NoneOperator) Compress(data []byte, _ map[string]string) ([]byte, error) {
	return data, nil
}

// Decompress returns data as is.
func (NoneOperator) Decompress(data []byte, _ uint64) ([]byte, error) {
	return data, nil
}

// MaxCompressedSize returns n.
func (NoneOperator) MaxCompressedSize(n int) int { return n }
