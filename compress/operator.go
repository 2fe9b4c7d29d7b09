package compress

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// Operator transforms a payload on write and restores it on read.
type Operator interface {
	// Type returns the compression type recorded in block characteristics.
	Type() format.CompressionType

	// Compress transforms data. params holds the operation parameters with
	// lower-case keys; unknown keys are ignored.
	//
	// The returned slice never aliases data, except for the none operator.
	Compress(data []byte, params map[string]string) ([]byte, error)

	// Decompress restores a payload produced by Compress. preSize is the
	// recorded size before the transform, or 0 when unknown.
	Decompress(data []byte, preSize uint64) ([]byte, error)

	// MaxCompressedSize returns an upper bound of the transformed size of an
	// n-byte payload, used to reserve buffer space before compressing in place.
	MaxCompressedSize(n int) int
}

var builtinOperators = map[format.CompressionType]Operator{
	format.CompressionNone: NoneOperator{},
	format.CompressionZstd: ZstdOperator{},
	format.CompressionS2:   S2Operator{},
	format.CompressionLZ4:  LZ4Operator{},
}

// Get returns the built-in operator for a compression type.
//
// Returns:
//   - Operator: the operator
//   - error: ErrUnknownOperator for types without an operator
func Get(t format.CompressionType) (Operator, error) {
	if op, ok := builtinOperators[t]; ok {
		return op, nil
	}

	return nil, fmt.Errorf("%w: %s", errs.ErrUnknownOperator, t)
}

// Lookup returns the operator registered under a configuration name such as
// "zstd" or "lz4". Matching is case-insensitive.
func Lookup(name string) (Operator, error) {
	t, ok := format.ParseCompressionType(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownOperator, name)
	}

	return Get(t)
}

// intParam reads an integer parameter, returning def when key is absent.
func intParam(params map[string]string, key string, def, lo, hi int) (int, error) {
	raw, ok := params[key]
	if !ok {
		return def, nil
	}

	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%w: %s=%q, want an integer in [%d, %d]", errs.ErrInvalidParameter, key, raw, lo, hi)
	}

	return v, nil
}

func operatorError(t format.CompressionType, action string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", errs.ErrOperatorFailed, t, action, err)
}
