// Package config parses engine parameters and YAML configuration files.
//
// Engine parameters are case-insensitive string pairs set on a core.IO,
// either by the application or by a configuration file:
//
//	io.SetParameters(map[string]string{"Threads": "4", "MaxBufferSize": "64Mb"})
//	params, err := config.ParseEngineParams(io.Parameters(), ranks)
package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/arloliu/bpio/bp"
	"github.com/arloliu/bpio/errs"
)

const (
	// MinBufferSize is the smallest accepted InitialBufferSize and MaxBufferSize.
	MinBufferSize = 16 * 1024
	// DefaultGrowthFactor is the default BufferGrowthFactor.
	DefaultGrowthFactor = 1.05
	// DefaultMaxOpenFiles is the default MaxOpenFiles.
	DefaultMaxOpenFiles = 64
)

// Params are the parsed engine parameters.
type Params struct {
	Threads            int
	InitialBufferSize  uint64
	MaxBufferSize      uint64 // 0 means unlimited
	BufferGrowthFactor float64
	Verbose            int
	CollectiveMetadata bool
	Profile            bool
	ProfileUnits       bp.Units
	// OpenTimeout bounds how long a reader waits for the output to appear.
	OpenTimeout time.Duration
	// PollingFrequency is the interval between checks for new steps.
	PollingFrequency time.Duration
	SubStreams       int
	MaxOpenFiles     int
	ColumnMajor      bool
	// Transport is the kind of store named by the configuration: "File",
	// "Memory" or "S3". Empty when none was configured.
	Transport string
	// TransportParams holds the remaining parameters of the transport.
	TransportParams map[string]string
}

// DefaultParams returns the parameters of an output written by ranks ranks.
func DefaultParams(ranks int) Params {
	return Params{
		Threads:            1,
		InitialBufferSize:  MinBufferSize,
		BufferGrowthFactor: DefaultGrowthFactor,
		CollectiveMetadata: true,
		Profile:            true,
		ProfileUnits:       bp.Microseconds,
		PollingFrequency:   time.Second,
		SubStreams:         max(ranks, 1),
		MaxOpenFiles:       DefaultMaxOpenFiles,
		TransportParams:    map[string]string{},
	}
}

// TransportParamPrefix prefixes the transport parameters stored on an IO.
const TransportParamPrefix = "transport."

// ParseEngineParams validates params on top of DefaultParams(ranks).
// Unknown keys are ignored.
//
// Parameters:
//   - params: engine parameters, keys in any case
//   - ranks: number of writer ranks, the bound of SubStreams
//
// Returns:
//   - Params: parsed values
//   - error: ErrInvalidParameter naming the offending key
func ParseEngineParams(params map[string]string, ranks int) (Params, error) {
	p := DefaultParams(ranks)

	var err error
	for key, value := range params {
		value = strings.TrimSpace(value)
		switch lower := strings.ToLower(key); lower {
		case "threads":
			p.Threads, err = parseInt(key, value, 1, math.MaxInt32)
		case "initialbuffersize":
			p.InitialBufferSize, err = parseBufferSize(key, value)
		case "maxbuffersize":
			p.MaxBufferSize, err = parseBufferSize(key, value)
		case "buffergrowthfactor":
			p.BufferGrowthFactor, err = strconv.ParseFloat(value, 64)
			if err == nil && p.BufferGrowthFactor <= 1 {
				err = errors.New("must be greater than 1")
			}
		case "verbose":
			p.Verbose, err = parseInt(key, value, 0, 5)
		case "collectivemetadata":
			p.CollectiveMetadata, err = parseSwitch(value)
		case "profile":
			p.Profile, err = parseSwitch(value)
		case "profileunits":
			p.ProfileUnits, err = bp.ParseUnits(value)
		case "opentimeoutsecs":
			p.OpenTimeout, err = parseSeconds(value)
		case "beginsteppollingfrequencysecs":
			p.PollingFrequency, err = parseSeconds(value)
			if err == nil && p.PollingFrequency <= 0 {
				err = errors.New("must be positive")
			}
		case "substreams":
			p.SubStreams, err = parseInt(key, value, 1, max(ranks, 1))
		case "maxopenfiles":
			p.MaxOpenFiles, err = parseInt(key, value, 1, math.MaxInt32)
		case "columnmajor":
			p.ColumnMajor, err = parseSwitch(value)
		case "transport":
			p.Transport = value
		default:
			if name, ok := strings.CutPrefix(lower, TransportParamPrefix); ok {
				p.TransportParams[name] = value
			}
		}
		if err != nil {
			return p, fmt.Errorf("%w: %s=%q: %w", errs.ErrInvalidParameter, key, value, err)
		}
	}

	if p.MaxBufferSize != 0 && p.MaxBufferSize < p.InitialBufferSize {
		return p, fmt.Errorf("%w: MaxBufferSize %d below InitialBufferSize %d",
			errs.ErrInvalidParameter, p.MaxBufferSize, p.InitialBufferSize)
	}

	return p, nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be in [%d, %d]", key, lo, hi)
	}

	return n, nil
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, errors.New("expected On/Off or Yes/No")
	}
}

func parseSeconds(value string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		return 0, errors.New("must not be negative")
	}

	return time.Duration(secs * float64(time.Second)), nil
}

// ParseSize parses a byte size such as "16Kb", "2Mb", "1Gb" or "4096". The
// Kb, Mb and Gb units are powers of 1024; any unit go-humanize accepts is
// accepted too.
func ParseSize(value string) (uint64, error) {
	v := strings.TrimSpace(value)
	lower := strings.ToLower(v)
	for _, unit := range [...]string{"kb", "mb", "gb", "tb"} {
		if strings.HasSuffix(lower, unit) {
			v = v[:len(v)-2] + strings.ToUpper(unit[:1]) + "iB"
			break
		}
	}

	return humanize.ParseBytes(v)
}

func parseBufferSize(key, value string) (uint64, error) {
	n, err := ParseSize(value)
	if err != nil {
		return 0, err
	}
	if n < MinBufferSize {
		return 0, fmt.Errorf("%s must be at least %s", key, humanize.IBytes(MinBufferSize))
	}

	return n, nil
}
