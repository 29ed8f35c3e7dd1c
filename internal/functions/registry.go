// Package functions is the local business-function registry: named Go
// functions with JSON-schema described arguments that the language model can
// call as tools without going through an MCP server.
//
// Every registered [Function] validates its argument map against its schema
// before the handler runs. The same registry can also be published over MCP
// ([Registry.MCPServer]) or mounted into an in-process MCP host
// ([RegisterBuiltins]) so a single process can serve both routing strategies.
package functions

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/colloquy/pkg/types"
)

// ErrUnknownFunction is returned by [Registry.Execute] when no function with
// the requested name is registered.
var ErrUnknownFunction = errors.New("functions: unknown function")

// ErrInvalidArguments is returned by [Registry.Execute] when the argument map
// does not satisfy the function's schema.
var ErrInvalidArguments = errors.New("functions: invalid arguments")

// Result is the outcome of a successful function call.
type Result struct {
	// Text is the human-readable result shown in the conversation.
	Text string

	// Data is the structured payload, typically forwarded to a UI component.
	Data map[string]any

	// UIComponent names the client-side component that renders Data.
	// Empty when the result has no visual representation.
	UIComponent string
}

// Handler executes a function with an already validated argument map.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// Function is a single callable business function.
type Function struct {
	// Name is the tool name presented to the model. Must be unique per registry.
	Name string

	// Description tells the model when to call the function.
	Description string

	// Parameters is the JSON Schema of the argument object.
	Parameters map[string]any

	// Handler runs the function.
	Handler Handler

	validator *jsonschema.Resolved
}

// Registry holds named functions. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Function)}
}

// Register adds fn, replacing any function with the same name.
//
// When fn was not built by [Typed] its Parameters are compiled into a
// validator here; a schema that does not compile is rejected.
func (r *Registry) Register(fn Function) error {
	if fn.Name == "" {
		return errors.New("functions: function name must not be empty")
	}
	if fn.Handler == nil {
		return fmt.Errorf("functions: function %q must have a handler", fn.Name)
	}
	if fn.Parameters == nil {
		fn.Parameters = map[string]any{"type": "object"}
	}
	if fn.validator == nil {
		v, err := compileSchema(fn.Parameters)
		if err != nil {
			return fmt.Errorf("functions: compile schema for %q: %w", fn.Name, err)
		}
		fn.validator = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[fn.Name] = fn
	return nil
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.funcs))
}

// Definitions returns a tool definition per function, sorted by name.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(r.funcs))
	for _, name := range slices.Sorted(maps.Keys(r.funcs)) {
		fn := r.funcs[name]
		defs = append(defs, types.ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
			Source:      types.SourceRegistry,
		})
	}
	return defs
}

// Execute validates args against the named function's schema and runs it.
// A nil args map is treated as empty.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	if err := fn.validator.Validate(args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, name, err)
	}

	res, err := fn.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}
