package format

import "strings"

type (
	// CompressionType identifies the operator applied to a variable payload.
	// The numeric value is stored in the transform characteristic.
	CompressionType uint8

	// StepStatus is the outcome of a BeginStep call.
	StepStatus uint8

	// Mode selects between synchronous and deferred Put/Get.
	Mode uint8

	// ShapeID classifies a variable by the dimensions it was defined with.
	ShapeID uint8
)

const (
	CompressionNone CompressionType = 0x1 // CompressionNone stores the payload as is.
	CompressionZstd CompressionType = 0x2 // CompressionZstd represents Zstandard compression.
	CompressionS2   CompressionType = 0x3 // CompressionS2 represents S2 compression.
	CompressionLZ4  CompressionType = 0x4 // CompressionLZ4 represents LZ4 compression.
)

const (
	StepOK          StepStatus = iota // StepOK means a step is available.
	StepNotReady                      // StepNotReady means the writer is active but no new step arrived in time.
	StepEndOfStream                   // StepEndOfStream means no more steps will arrive.
	StepOtherError                    // StepOtherError reports a failure detected while looking for steps.
)

const (
	ModeSync     Mode = iota // ModeSync performs the request immediately.
	ModeDeferred             // ModeDeferred queues the request until PerformPuts/PerformGets.
)

const (
	ShapeUnknown     ShapeID = iota
	ShapeGlobalValue         // ShapeGlobalValue is a single value shared by all ranks.
	ShapeGlobalArray         // ShapeGlobalArray has Shape, Start and Count.
	ShapeLocalArray          // ShapeLocalArray has only Count.
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZstd:
		return "Zstd"
	case CompressionS2:
		return "S2"
	case CompressionLZ4:
		return "LZ4"
	default:
		return "Unknown"
	}
}

// ParseCompressionType maps an operator name, as used in engine configuration,
// to its CompressionType. Matching is case-insensitive.
func ParseCompressionType(name string) (CompressionType, bool) {
	switch strings.ToLower(name) {
	case "none", "":
		return CompressionNone, true
	case "zstd":
		return CompressionZstd, true
	case "s2":
		return CompressionS2, true
	case "lz4":
		return CompressionLZ4, true
	default:
		return 0, false
	}
}

func (s StepStatus) String() string {
	switch s {
	case StepOK:
		return "OK"
	case StepNotReady:
		return "NotReady"
	case StepEndOfStream:
		return "EndOfStream"
	case StepOtherError:
		return "OtherError"
	default:
		return "Unknown"
	}
}

func (m Mode) String() string {
	if m == ModeDeferred {
		return "Deferred"
	}

	return "Sync"
}

func (s ShapeID) String() string {
	switch s {
	case ShapeGlobalValue:
		return "GlobalValue"
	case ShapeGlobalArray:
		return "GlobalArray"
	case ShapeLocalArray:
		return "LocalArray"
	default:
		return "Unknown"
	}
}
