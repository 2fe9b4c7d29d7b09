// Package errs defines the sentinel errors returned by bpio packages.
//
// Errors are grouped by failure kind. Callers match them with errors.Is; the
// packages wrap them with call and object context using fmt.Errorf("%w: ...").
//
//	if errors.Is(err, errs.ErrEndiannessMismatch) {
//	    // retry with byte reversal enabled
//	}
package errs

import "errors"

// Precondition and call-order violations.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidCallOrder = errors.New("invalid call order")
	ErrVariableNotFound = errors.New("variable not found")
	ErrVariableExists   = errors.New("variable already defined")
	ErrAttributeExists  = errors.New("attribute already defined with a different value")
	ErrAttributeInvalid = errors.New("invalid attribute")
	ErrTypeMismatch     = errors.New("data type mismatch")
	ErrInvalidSelection = errors.New("invalid selection")
	ErrEngineClosed     = errors.New("engine is closed")
	ErrInvalidName      = errors.New("invalid name")
)

// Format and version errors. These are unrecoverable for the current read.
var (
	ErrUnsupportedVersion = errors.New("unsupported bp format version")
	ErrEndiannessMismatch = errors.New("file endianness differs from host and byte reversal is disabled")
	ErrCorruptedRecord    = errors.New("corrupted record")
	ErrInvalidMinifooter  = errors.New("invalid minifooter")
	ErrBufferTooShort     = errors.New("buffer too short")
	ErrNameTooLong        = errors.New("name exceeds maximum record length")
)

// ErrBufferCapacity is returned when a buffer cannot grow to the requested size.
var ErrBufferCapacity = errors.New("buffer capacity exceeded")

// ErrUnsupportedType is returned for every data type absent from the type registry.
var ErrUnsupportedType = errors.New("unsupported data type")

// Transport errors.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrTransport    = errors.New("transport failure")
	ErrReadOnly     = errors.New("store is read-only")
)

// Collective communication errors.
var (
	ErrCollective     = errors.New("collective operation failed")
	ErrCollectiveOpen = errors.New("collective open failed")
)

// Configuration errors.
var (
	ErrInvalidParameter = errors.New("invalid engine parameter")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Operator errors.
var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrOperatorFailed  = errors.New("operator failed")
)
