package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/bpio/core"
	"github.com/arloliu/bpio/errs"
	"github.com/arloliu/bpio/format"
)

// Operation is one operator applied to a variable.
type Operation struct {
	Type   string
	Params map[string]string
}

// VariableConfig lists the operators of one variable.
type VariableConfig struct {
	Name       string
	Operations []Operation
}

// Transport is one transport entry of an IO.
type Transport struct {
	Type   string
	Params map[string]string
}

// IOConfig is the configuration of one IO.
type IOConfig struct {
	Name       string
	Engine     string
	Params     map[string]string
	Variables  []VariableConfig
	Transports []Transport
}

// Config is a parsed configuration file.
type Config struct {
	IOs []IOConfig
}

// LoadFile reads and parses the YAML configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse parses a YAML configuration: a sequence of IO entries.
//
//	- IO: SimulationOutput
//	  Engine:
//	    Type: BP3
//	    Threads: 2
//	  Variables:
//	    - Variable: temperature
//	      Operations:
//	        - Type: zstd
//	          level: 3
//	  Transports:
//	    - Type: File
//
// Entries without an IO key are skipped.
//
// Returns:
//   - *Config: the IO entries in file order
//   - error: ErrInvalidConfig for malformed YAML, duplicate keys, wrong node
//     kinds and missing mandatory keys
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}

	cfg := &Config{}
	if doc.Kind == 0 {
		return cfg, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, invalid(root, "top level must be a sequence of IO entries")
	}

	for _, entry := range root.Content {
		if entry.Kind != yaml.MappingNode {
			return nil, invalid(entry, "IO entry must be a map")
		}
		ioNode, err := child(entry, "IO", yaml.ScalarNode, false)
		if err != nil {
			return nil, err
		}
		if ioNode == nil {
			continue
		}
		ioc, err := parseIO(ioNode.Value, entry)
		if err != nil {
			return nil, err
		}
		cfg.IOs = append(cfg.IOs, ioc)
	}

	return cfg, nil
}

func parseIO(name string, entry *yaml.Node) (IOConfig, error) {
	ioc := IOConfig{Name: name, Params: map[string]string{}}

	engine, err := child(entry, "Engine", yaml.MappingNode, false)
	if err != nil {
		return ioc, err
	}
	if engine != nil {
		params, err := toParams(engine)
		if err != nil {
			return ioc, err
		}
		ioc.Engine = popKey(params, "Type")
		ioc.Params = params
	}

	variables, err := child(entry, "Variables", yaml.SequenceNode, false)
	if err != nil {
		return ioc, err
	}
	if variables != nil {
		for _, vn := range variables.Content {
			vc, err := parseVariable(vn)
			if err != nil {
				return ioc, err
			}
			ioc.Variables = append(ioc.Variables, vc)
		}
	}

	transports, err := child(entry, "Transports", yaml.SequenceNode, false)
	if err != nil {
		return ioc, err
	}
	if transports != nil {
		for _, tn := range transports.Content {
			if _, err := child(tn, "Type", yaml.ScalarNode, true); err != nil {
				return ioc, err
			}
			params, err := toParams(tn)
			if err != nil {
				return ioc, err
			}
			ioc.Transports = append(ioc.Transports, Transport{Type: popKey(params, "Type"), Params: params})
		}
	}

	return ioc, nil
}

func parseVariable(n *yaml.Node) (VariableConfig, error) {
	var vc VariableConfig
	if n.Kind != yaml.MappingNode {
		return vc, invalid(n, "variable entry must be a map")
	}
	nameNode, err := child(n, "Variable", yaml.ScalarNode, true)
	if err != nil {
		return vc, err
	}
	vc.Name = nameNode.Value

	ops, err := child(n, "Operations", yaml.SequenceNode, false)
	if err != nil || ops == nil {
		return vc, err
	}
	for _, on := range ops.Content {
		typeNode, err := child(on, "Type", yaml.ScalarNode, true)
		if err != nil {
			return vc, err
		}
		if _, ok := format.ParseCompressionType(typeNode.Value); !ok {
			return vc, invalid(typeNode, fmt.Sprintf("unknown operator %q of variable %q", typeNode.Value, vc.Name))
		}
		params, err := toParams(on)
		if err != nil {
			return vc, err
		}
		vc.Operations = append(vc.Operations, Operation{Type: popKey(params, "Type"), Params: params})
	}

	return vc, nil
}

// child returns the value of key in the map n.
func child(n *yaml.Node, key string, kind yaml.Kind, mandatory bool) (*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, invalid(n, "expected a map")
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value != key {
			continue
		}
		v := n.Content[i+1]
		if v.Kind != kind {
			return nil, invalid(v, fmt.Sprintf("node %s has the wrong kind", key))
		}

		return v, nil
	}
	if mandatory {
		return nil, invalid(n, fmt.Sprintf("no %s node found (keys are case sensitive)", key))
	}

	return nil, nil
}

// toParams flattens a map of scalars. Keys must be unique.
func toParams(n *yaml.Node) (map[string]string, error) {
	params := make(map[string]string, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, invalid(v, fmt.Sprintf("parameter %s must be a scalar", k.Value))
		}
		if _, dup := params[k.Value]; dup {
			return nil, invalid(k, fmt.Sprintf("duplicated key %s", k.Value))
		}
		params[k.Value] = v.Value
	}

	return params, nil
}

func popKey(params map[string]string, key string) string {
	v := params[key]
	delete(params, key)

	return v
}

func invalid(n *yaml.Node, msg string) error {
	return fmt.Errorf("%w: line %d: %s", errs.ErrInvalidConfig, n.Line, msg)
}

// IO returns the configuration of the IO called name.
func (c *Config) IO(name string) (*IOConfig, bool) {
	for i := range c.IOs {
		if c.IOs[i].Name == name {
			return &c.IOs[i], true
		}
	}

	return nil, false
}

// Apply installs the engine type, the engine parameters, the first transport
// and the variable operators on io.
func (c *IOConfig) Apply(io *core.IO) error {
	if c.Engine != "" {
		io.SetEngine(c.Engine)
	}
	io.SetParameters(c.Params)
	if len(c.Transports) > 0 {
		t := c.Transports[0]
		io.SetParameter("Transport", t.Type)
		for k, v := range t.Params {
			io.SetParameter(TransportParamPrefix+strings.ToLower(k), v)
		}
	}

	for _, vc := range c.Variables {
		ops := make([]core.Operation, 0, len(vc.Operations))
		for _, op := range vc.Operations {
			t, ok := format.ParseCompressionType(op.Type)
			if !ok {
				return fmt.Errorf("%w: unknown operator %q of variable %q", errs.ErrInvalidConfig, op.Type, vc.Name)
			}
			ops = append(ops, core.Operation{Type: t, Params: op.Params})
		}
		io.SetVariableOperations(vc.Name, ops)
	}

	return nil
}
