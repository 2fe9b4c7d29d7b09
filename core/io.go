// Package core holds the user-facing data model: the IO that owns variable
// and attribute definitions, the Variable selection state, and the block
// records a reader attaches to variables.
package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// IO owns the variables and attributes of one output or input, and the
// engine parameters used to open it.
//
// Definitions are guarded by a mutex so a threaded metadata parse can define
// variables concurrently.
type IO struct {
	mu         sync.RWMutex
	name       string
	engineType string
	params     map[string]string
	variables  map[string]*Variable
	attributes map[string]*Attribute

	// operations declared by configuration for variables not defined yet
	pendingOps map[string][]Operation
}

// NewIO creates an empty IO.
func NewIO(name string) *IO {
	return &IO{
		name:       name,
		engineType: "BP3",
		params:     make(map[string]string),
		variables:  make(map[string]*Variable),
		attributes: make(map[string]*Attribute),
		pendingOps: make(map[string][]Operation),
	}
}

// Name returns the IO name, used as the process group name.
func (io *IO) Name() string { return io.name }

// SetEngine sets the engine type name.
func (io *IO) SetEngine(engineType string) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.engineType = engineType
}

// EngineType returns the engine type name.
func (io *IO) EngineType() string {
	io.mu.RLock()
	defer io.mu.RUnlock()

	return io.engineType
}

// SetParameter sets one engine parameter. Keys are case-insensitive.
func (io *IO) SetParameter(key, value string) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.params[strings.ToLower(key)] = value
}

// SetParameters merges params into the engine parameters.
func (io *IO) SetParameters(params map[string]string) {
	io.mu.Lock()
	defer io.mu.Unlock()
	for k, v := range params {
		io.params[strings.ToLower(k)] = v
	}
}

// Parameters returns a copy of the engine parameters with lower-case keys.
func (io *IO) Parameters() map[string]string {
	io.mu.RLock()
	defer io.mu.RUnlock()

	return maps.Clone(io.params)
}

// DefineVariable defines a variable of element type T.
//
// Parameters:
//   - io: owning IO
//   - name: unique variable name
//   - shape, start, count: empty shape and start define a local array, all
//     three empty define a single value
//   - constantDims: reject later SetShape calls
//
// Returns:
//   - *Variable: the new variable
//   - error: ErrVariableExists, ErrInvalidName, ErrInvalidArgument or ErrUnsupportedType
func DefineVariable[T encoding.Element](io *IO, name string, shape, start, count Dims, constantDims bool) (*Variable, error) {
	return io.DefineVariableType(name, format.DataTypeOf[T](), shape, start, count, constantDims)
}

// DefineVariableType defines a variable from a runtime type tag.
func (io *IO) DefineVariableType(name string, dt format.DataType, shape, start, count Dims, constantDims bool) (*Variable, error) {
	v, err := newVariable(name, dt, shape, start, count, constantDims)
	if err != nil {
		return nil, err
	}

	io.mu.Lock()
	defer io.mu.Unlock()
	if _, ok := io.variables[name]; ok {
		return nil, fmt.Errorf("%w: %q in IO %q", errs.ErrVariableExists, name, io.name)
	}
	for _, op := range io.pendingOps[name] {
		v.AddOperation(op)
	}
	io.variables[name] = v

	return v, nil
}

// SetVariableOperations declares the operators of a variable. A defined
// variable receives them at once; otherwise they are attached when a writer
// defines it.
func (io *IO) SetVariableOperations(name string, ops []Operation) {
	io.mu.Lock()
	defer io.mu.Unlock()

	if v, ok := io.variables[name]; ok {
		v.RemoveOperations()
		for _, op := range ops {
			v.AddOperation(op)
		}

		return
	}
	cloned := make([]Operation, len(ops))
	for i, op := range ops {
		cloned[i] = op.Clone()
	}
	io.pendingOps[name] = cloned
}

// DefineOrGetVariable returns the variable called name, defining it first
// if needed. The bool result is true when the variable was created.
func (io *IO) DefineOrGetVariable(name string, dt format.DataType, shape, start, count Dims) (*Variable, bool, error) {
	io.mu.Lock()
	defer io.mu.Unlock()

	if v, ok := io.variables[name]; ok {
		if v.dataType != dt {
			return nil, false, fmt.Errorf("%w: variable %q is %s, found %s", errs.ErrTypeMismatch, name, v.dataType, dt)
		}

		return v, false, nil
	}

	v, err := newVariable(name, dt, shape, start, count, false)
	if err != nil {
		return nil, false, err
	}
	io.variables[name] = v

	return v, true, nil
}

// InquireVariable returns the variable called name, or nil.
func (io *IO) InquireVariable(name string) *Variable {
	io.mu.RLock()
	defer io.mu.RUnlock()

	return io.variables[name]
}

// InquireVariableOf returns the variable called name if its type is T.
func InquireVariableOf[T encoding.Element](io *IO, name string) (*Variable, error) {
	v := io.InquireVariable(name)
	if v == nil {
		return nil, fmt.Errorf("%w: %q in IO %q", errs.ErrVariableNotFound, name, io.name)
	}
	if dt := format.DataTypeOf[T](); v.dataType != dt {
		return nil, fmt.Errorf("%w: variable %q is %s, requested %s", errs.ErrTypeMismatch, name, v.dataType, dt)
	}

	return v, nil
}

// RemoveVariable removes a variable and reports whether it existed.
func (io *IO) RemoveVariable(name string) bool {
	io.mu.Lock()
	defer io.mu.Unlock()

	_, ok := io.variables[name]
	delete(io.variables, name)

	return ok
}

// RemoveAllVariables removes every variable.
func (io *IO) RemoveAllVariables() {
	io.mu.Lock()
	defer io.mu.Unlock()
	clear(io.variables)
}

// Variables returns the variables sorted by name.
func (io *IO) Variables() []*Variable {
	io.mu.RLock()
	defer io.mu.RUnlock()

	out := make([]*Variable, 0, len(io.variables))
	for _, name := range slices.Sorted(maps.Keys(io.variables)) {
		out = append(out, io.variables[name])
	}

	return out
}

// DefineAttribute defines an attribute holding values. A single value
// defines a single-value attribute; several strings define a string array.
//
// Redefining an attribute with an identical value returns the existing one.
//
// Returns:
//   - *Attribute: the new or existing attribute
//   - error: ErrAttributeExists for a different value, ErrAttributeInvalid for no values
func DefineAttribute[T encoding.Element](io *IO, name string, values ...T) (*Attribute, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: attribute %q has no values", errs.ErrAttributeInvalid, name)
	}

	dt := format.DataTypeOf[T]()
	var value any = values[0]
	if len(values) > 1 {
		value = slices.Clone(values)
		if dt == format.String {
			dt = format.StringArray
		}
	}

	return io.DefineAttributeValue(name, dt, value)
}

// DefineAttributeValue defines an attribute from a runtime type tag. value is
// a scalar, a string, a typed slice or a []string matching dt.
func (io *IO) DefineAttributeValue(name string, dt format.DataType, value any) (*Attribute, error) {
	a, err := newAttribute(name, dt, value)
	if err != nil {
		return nil, err
	}

	io.mu.Lock()
	defer io.mu.Unlock()
	if prev, ok := io.attributes[name]; ok {
		if prev.Equal(a) {
			return prev, nil
		}

		return nil, fmt.Errorf("%w: %q in IO %q", errs.ErrAttributeExists, name, io.name)
	}
	io.attributes[name] = a

	return a, nil
}

// InquireAttribute returns the attribute called name, or nil.
func (io *IO) InquireAttribute(name string) *Attribute {
	io.mu.RLock()
	defer io.mu.RUnlock()

	return io.attributes[name]
}

// RemoveAllAttributes removes every attribute.
func (io *IO) RemoveAllAttributes() {
	io.mu.Lock()
	defer io.mu.Unlock()
	clear(io.attributes)
}

// Attributes returns the attributes sorted by name.
func (io *IO) Attributes() []*Attribute {
	io.mu.RLock()
	defer io.mu.RUnlock()

	out := make([]*Attribute, 0, len(io.attributes))
	for _, name := range slices.Sorted(maps.Keys(io.attributes)) {
		out = append(out, io.attributes[name])
	}

	return out
}
