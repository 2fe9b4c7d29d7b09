package core

import (
	"maps"

	"github.com/arloliu/bpio/format"
)

// Operation is an operator applied to a variable payload, with its parameters.
type Operation struct {
	Type   format.CompressionType
	Params map[string]string
}

// Clone returns a deep copy of the operation.
func (o Operation) Clone() Operation {
	return Operation{Type: o.Type, Params: maps.Clone(o.Params)}
}
