// Package endian provides byte order utilities for the BP binary layout.
//
// Every multi-byte field in a BP buffer is written in the writer's byte order
// and the order is recorded once, as a single flag byte, in the minifooter.
// This package maps between that flag byte and an EndianEngine, detects the
// host byte order, and reverses element bytes in place when a reader consumes
// data produced on a host of the other byte order.
//
// # Basic Usage
//
// Writers normally use the host order:
//
//	engine := endian.HostEngine()
//	flag := endian.FlagOf(engine) // stored in the minifooter
//
// Readers recover the engine from the flag:
//
//	engine, err := endian.EngineFromFlag(flag)
//	if !endian.CompareNativeEndian(engine) && !reversal {
//	    return errs.ErrEndiannessMismatch
//	}
//
// # Thread Safety
//
// All functions in this package are safe for concurrent use. The returned
// EndianEngine values are immutable and stateless.
package endian

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/arloliu/bpio/errs"
)

// Flag values stored in the minifooter endianness byte.
const (
	LittleEndianFlag uint8 = 0
	BigEndianFlag    uint8 = 1
)

// EndianEngine combines ByteOrder and AppendByteOrder interfaces from encoding/binary
// into a single interface for convenient byte order operations.
//
// This interface is satisfied by binary.LittleEndian and binary.BigEndian.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// CheckEndianness uses a fixed integer value to determine the host's byte order.
func CheckEndianness() binary.ByteOrder {
	// 0x0100 is 256: a big-endian host stores 0x01 at the lowest address.
	var i uint16 = 0x0100
	b := (*[2]byte)(unsafe.Pointer(&i))

	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// IsNativeLittleEndian reports whether the host is little-endian.
func IsNativeLittleEndian() bool {
	return CheckEndianness() == binary.LittleEndian
}

// IsNativeBigEndian reports whether the host is big-endian.
func IsNativeBigEndian() bool {
	return CheckEndianness() == binary.BigEndian
}

// CompareNativeEndian reports whether engine matches the host byte order.
func CompareNativeEndian(engine EndianEngine) bool {
	return engine == CheckEndianness()
}

// HostEngine returns the engine matching the host byte order.
func HostEngine() EndianEngine {
	if IsNativeBigEndian() {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// GetLittleEndianEngine returns the little-endian engine.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}

// FlagOf returns the minifooter flag byte describing engine.
func FlagOf(engine EndianEngine) uint8 {
	if engine == binary.BigEndian {
		return BigEndianFlag
	}

	return LittleEndianFlag
}

// EngineFromFlag returns the engine described by a minifooter flag byte.
//
// Parameters:
//   - flag: LittleEndianFlag or BigEndianFlag
//
// Returns:
//   - EndianEngine: engine for the flag
//   - error: ErrInvalidMinifooter for any other value
func EngineFromFlag(flag uint8) (EndianEngine, error) {
	switch flag {
	case LittleEndianFlag:
		return binary.LittleEndian, nil
	case BigEndianFlag:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("%w: endianness flag %d", errs.ErrInvalidMinifooter, flag)
	}
}

// ReverseElements reverses the byte order of every width-sized element of b in place.
//
// Widths of 0 and 1 leave b untouched. Complex elements must be reversed per
// component, so callers pass the component width rather than the element width.
// A trailing partial element is left untouched.
func ReverseElements(b []byte, width int) {
	if width <= 1 {
		return
	}

	for off := 0; off+width <= len(b); off += width {
		elem := b[off : off+width]
		for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
			elem[i], elem[j] = elem[j], elem[i]
		}
	}
}
