// Package bpio reads and writes BP ("Binary Pack", version 3) outputs: the
// self-describing, step-organized container used to store typed
// multi-dimensional arrays produced by parallel simulations.
//
// # Core Features
//
//   - Global values, global arrays and local arrays of every numeric type, complex numbers and strings
//   - Per-block statistics (min/max) stored in the metadata for fast inquiry
//   - Collective metadata aggregation across the ranks of a group
//   - Data sub-files shared by sub-streams of ranks
//   - Streaming reads with BeginStep/EndStep, or random access over every step
//   - Optional per-variable compression (Zstd, S2, LZ4)
//
// # Basic Usage
//
// Writing two steps of a temperature field:
//
//	import "github.com/arloliu/bpio"
//
//	io := bpio.NewIO("heat")
//	temp, _ := core.DefineVariable[float64](io, "T", core.Dims{16, 16}, core.Dims{0, 0}, core.Dims{16, 16}, true)
//
//	w, _ := bpio.Create(ctx, io, "heat")
//	for step := range 2 {
//	    w.BeginStep(ctx)
//	    bpio.Put(ctx, w, temp, values[step])
//	    w.EndStep(ctx)
//	}
//	w.Close(ctx)
//
// Reading them back:
//
//	io := bpio.NewIO("heat")
//	r, _ := bpio.Open(ctx, io, "heat")
//	temp := io.InquireVariable("T")
//	temp.SetStepSelection(0, 2)
//	values, _ := bpio.Get[float64](ctx, r, temp)
//
// # Package Structure
//
// This package provides convenient top-level wrappers around the engine
// package. The engine package gives full control over the writer and reader,
// the bp package exposes the serializer and deserializer themselves.
package bpio

import (
	"context"
	"fmt"

	"github.com/arloliu/bpio/config"
	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/engine"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// StepStatus is the outcome of BeginStep.
type StepStatus = format.StepStatus

const (
	StepOK          = format.StepOK          // StepOK means a step is available.
	StepNotReady    = format.StepNotReady    // StepNotReady means no new step arrived in time.
	StepEndOfStream = format.StepEndOfStream // StepEndOfStream means no more steps will arrive.
	StepOtherError  = format.StepOtherError  // StepOtherError reports a failure while looking for steps.
)

// NewIO returns an empty IO called name.
func NewIO(name string) *core.IO {
	return core.NewIO(name)
}

// NewIOFromConfig returns the IO called name configured from the YAML file at
// path. An IO missing from the file is returned unconfigured.
//
// Parameters:
//   - path: YAML configuration file
//   - name: IO name
//
// Returns:
//   - *core.IO: the configured IO
//   - error: errs.ErrInvalidConfig if the file cannot be read or parsed
func NewIOFromConfig(path, name string) (*core.IO, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}

	io := core.NewIO(name)
	if ioCfg, ok := cfg.IO(name); ok {
		if err := ioCfg.Apply(io); err != nil {
			return nil, err
		}
	}

	return io, nil
}

// Create opens the output called name for writing. Every rank of the
// channel passed with engine.WithChannel must call Create.
//
// Example:
//
//	w, err := bpio.Create(ctx, io, "heat", engine.WithChannel(ch))
func Create(ctx context.Context, io *core.IO, name string, opts ...engine.Option) (*engine.Writer, error) {
	return engine.NewWriter(ctx, io, name, opts...)
}

// Open opens the output called name for reading.
func Open(ctx context.Context, io *core.IO, name string, opts ...engine.Option) (*engine.Reader, error) {
	return engine.NewReader(ctx, io, name, opts...)
}

// Put writes values as the current selection of v, immediately.
//
// Returns errs.ErrTypeMismatch if T is not the type v was defined with.
func Put[T encoding.Element](ctx context.Context, w *engine.Writer, v *core.Variable, values []T) error {
	if err := checkType[T](v); err != nil {
		return err
	}

	return w.Put(ctx, v, values, format.ModeSync)
}

// Get reads the current selection of v over its selected steps into a new
// slice.
//
// Returns:
//   - []T: the values, steps after each other
//   - error: errs.ErrTypeMismatch if T is not the type of v, or the read error
func Get[T encoding.Element](ctx context.Context, r *engine.Reader, v *core.Variable) ([]T, error) {
	if err := checkType[T](v); err != nil {
		return nil, err
	}

	values := make([]T, v.SelectionSize())
	if err := r.Get(ctx, v, values, format.ModeSync); err != nil {
		return nil, err
	}

	return values, nil
}

func checkType[T encoding.Element](v *core.Variable) error {
	if dt := format.DataTypeOf[T](); dt != v.Type() {
		return fmt.Errorf("%w: variable %q is %s, not %s", errs.ErrTypeMismatch, v.Name(), v.Type(), dt)
	}

	return nil
}
