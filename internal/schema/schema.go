// Package schema declares tool argument schemas and validates agent-supplied
// arguments against them.
//
// A schema is built once, at registration time, from an ordered list of
// parameter descriptors. Malformed descriptors fail fast with a *SchemaError;
// bad arguments at call time produce a *ValidationError before any handler runs.
package schema

import (
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// Kind is the declared type of a parameter.
type Kind int

const (
	KindInvalid Kind = iota
	String
	Integer
	Number
	Boolean
	StringList
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Integer:
		return "integer"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case StringList:
		return "array of strings"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k >= String && k <= Object
}

// Param describes one tool argument. A nil Default on an optional parameter
// means "not provided".
type Param struct {
	Name        string
	Kind        Kind
	Required    bool
	Default     any
	Description string
}

// excluded names are supplied by the dispatcher, never by the agent.
var excluded = map[string]struct{}{
	"self":    {},
	"cls":     {},
	"logger":  {},
	"ctx":     {},
	"context": {},
}

// Excluded reports whether name is reserved for the dispatcher.
func Excluded(name string) bool {
	_, ok := excluded[name]
	return ok
}

// Schema is the validated argument shape of a single tool.
type Schema struct {
	name        string
	description string
	params      []Param
}

// New builds a schema named after the tool. Excluded parameter names are
// dropped silently.
func New(name, description string, params ...Param) (*Schema, error) {
	if name == "" {
		return nil, &SchemaError{Reason: "tool name is empty"}
	}

	s := &Schema{name: name, description: description}
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, &SchemaError{Tool: name, Reason: "parameter name is empty"}
		}
		if Excluded(p.Name) {
			continue
		}
		if _, dup := seen[p.Name]; dup {
			return nil, &SchemaError{Tool: name, Param: p.Name, Reason: "duplicate parameter"}
		}
		seen[p.Name] = struct{}{}

		if !p.Kind.valid() {
			return nil, &SchemaError{Tool: name, Param: p.Name, Reason: fmt.Sprintf("unresolvable type %s", p.Kind)}
		}
		if p.Required && p.Default != nil {
			return nil, &SchemaError{Tool: name, Param: p.Name, Reason: "required parameter cannot have a default"}
		}
		if p.Default != nil {
			v, err := coerce(p.Kind, p.Default)
			if err != nil {
				return nil, &SchemaError{Tool: name, Param: p.Name, Reason: "default " + err.Error()}
			}
			p.Default = v
		}
		s.params = append(s.params, p)
	}
	return s, nil
}

// MustNew is New for package-level declarations; it panics on a SchemaError.
func MustNew(name, description string, params ...Param) *Schema {
	s, err := New(name, description, params...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Name() string        { return s.name }
func (s *Schema) Description() string { return s.description }

// Params returns the exposed parameters in declaration order.
func (s *Schema) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

// Validate checks raw agent arguments and returns them coerced to the declared
// kinds, with defaults filled in. Unknown keys are ignored.
func (s *Schema) Validate(raw map[string]any) (Args, error) {
	args := make(Args, len(s.params))
	var problems []string

	for _, p := range s.params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required argument %q", p.Name))
				continue
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		coerced, err := coerce(p.Kind, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("argument %q: %v", p.Name, err))
			continue
		}
		args[p.Name] = coerced
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Tool: s.name, Problems: problems}
	}
	return args, nil
}

// Definition renders the schema as a JSON schema object for tool advertisement.
func (s *Schema) Definition() jsonschema.Definition {
	def := jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: make(map[string]jsonschema.Definition, len(s.params)),
	}
	for _, p := range s.params {
		prop := jsonschema.Definition{Description: p.Description}
		switch p.Kind {
		case String:
			prop.Type = jsonschema.String
		case Integer:
			prop.Type = jsonschema.Integer
		case Number:
			prop.Type = jsonschema.Number
		case Boolean:
			prop.Type = jsonschema.Boolean
		case StringList:
			prop.Type = jsonschema.Array
			prop.Items = &jsonschema.Definition{Type: jsonschema.String}
		case Object:
			prop.Type = jsonschema.Object
		}
		def.Properties[p.Name] = prop
		if p.Required {
			def.Required = append(def.Required, p.Name)
		}
	}
	return def
}
