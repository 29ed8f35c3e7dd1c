package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaOption adjusts a schema derived by [Typed] before it is compiled.
type SchemaOption func(*jsonschema.Schema)

// WithEnum restricts the top-level property prop to values.
func WithEnum(prop string, values ...any) SchemaOption {
	return func(s *jsonschema.Schema) {
		if p, ok := s.Properties[prop]; ok && p != nil {
			p.Enum = values
		}
	}
}

// WithMinimum sets an inclusive lower bound on the numeric property prop.
func WithMinimum(prop string, lo float64) SchemaOption {
	return func(s *jsonschema.Schema) {
		if p, ok := s.Properties[prop]; ok && p != nil {
			p.Minimum = &lo
		}
	}
}

// Typed builds a [Function] whose argument schema is derived from T.
//
// Struct fields without omitempty become required properties and unknown
// properties are rejected. Field descriptions come from the jsonschema struct
// tag. The handler receives the argument map decoded into a T.
func Typed[T any](name, description string, fn func(ctx context.Context, args T) (*Result, error), opts ...SchemaOption) (Function, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return Function{}, fmt.Errorf("functions: derive schema for %q: %w", name, err)
	}
	for _, opt := range opts {
		opt(schema)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return Function{}, fmt.Errorf("functions: resolve schema for %q: %w", name, err)
	}
	params, err := schemaToMap(schema)
	if err != nil {
		return Function{}, fmt.Errorf("functions: encode schema for %q: %w", name, err)
	}

	return Function{
		Name:        name,
		Description: description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (*Result, error) {
			var typed T
			if err := decodeArgs(args, &typed); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
			}
			return fn(ctx, typed)
		},
		validator: resolved,
	}, nil
}

func schemaToMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// compileSchema turns a raw schema map into a validator.
func compileSchema(m map[string]any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Type != "" && s.Type != "object" {
		return nil, errors.New("argument schema must describe an object")
	}
	return s.Resolve(nil)
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
