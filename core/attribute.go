package core

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/arloliu/bpio/encoding"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// Attribute is a named single value or array attached to an IO.
type Attribute struct {
	name     string
	dataType format.DataType
	// value is a scalar, a string, a typed slice or a []string
	value    any
	isSingle bool
}

func newAttribute(name string, dt format.DataType, value any) (*Attribute, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty attribute name", errs.ErrInvalidName)
	}
	if err := dt.Validate(); err != nil {
		return nil, fmt.Errorf("define attribute %q: %w", name, err)
	}

	a := &Attribute{name: name, dataType: dt, value: value, isSingle: encoding.SliceLen(value) < 0}
	if a.isSingle && dt == format.StringArray {
		return nil, fmt.Errorf("%w: attribute %q string array holds %T", errs.ErrAttributeInvalid, name, value)
	}
	if !a.isSingle && encoding.SliceLen(value) == 0 {
		return nil, fmt.Errorf("%w: attribute %q has no values", errs.ErrAttributeInvalid, name)
	}

	return a, nil
}

// Name returns the attribute name.
func (a *Attribute) Name() string { return a.name }

// Type returns the element type. String arrays report StringArray.
func (a *Attribute) Type() format.DataType { return a.dataType }

// IsSingleValue reports whether the attribute holds one value rather than an array.
func (a *Attribute) IsSingleValue() bool { return a.isSingle }

// Value returns the stored value: a scalar or string for single values, a
// typed slice or []string for arrays. Callers must not modify it.
func (a *Attribute) Value() any { return a.value }

// Elements returns 1 for single values and the array length otherwise.
func (a *Attribute) Elements() int {
	if a.isSingle {
		return 1
	}

	return encoding.SliceLen(a.value)
}

// Equal reports whether o has the same name, type and value.
func (a *Attribute) Equal(o *Attribute) bool {
	return a.name == o.name && a.dataType == o.dataType && a.isSingle == o.isSingle && reflect.DeepEqual(a.value, o.value)
}

// AttributeValue returns the single value of a as T.
func AttributeValue[T encoding.Element](a *Attribute) (T, error) {
	var zero T
	v, ok := a.value.(T)
	if !ok || !a.isSingle {
		return zero, fmt.Errorf("%w: attribute %q holds %T", errs.ErrTypeMismatch, a.name, a.value)
	}

	return v, nil
}

// AttributeValues returns the values of a as a []T. A single value is
// returned as a one-element slice.
func AttributeValues[T encoding.Element](a *Attribute) ([]T, error) {
	if a.isSingle {
		v, err := AttributeValue[T](a)
		if err != nil {
			return nil, err
		}

		return []T{v}, nil
	}

	vs, ok := a.value.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: attribute %q holds %T", errs.ErrTypeMismatch, a.name, a.value)
	}

	return slices.Clone(vs), nil
}
