package conversation

import (
	"context"
	"fmt"

	"github.com/MrWong99/colloquy/internal/functions"
	"github.com/MrWong99/colloquy/internal/mcp"
	"github.com/MrWong99/colloquy/pkg/types"
)

// Invocation is the raw answer of a [ToolBackend] before it is formatted
// into a [ToolOutcome].
type Invocation struct {
	// Failed marks an application-level failure; Text then holds the error.
	Failed bool

	Text        string
	Data        map[string]any
	UIComponent string
}

// ToolBackend is the provider family that lists and executes tools. A
// deployment picks exactly one backend when it is wired, so every call of a
// turn goes to the same provider.
type ToolBackend interface {
	// Source identifies the provider family.
	Source() types.ToolSource

	// AvailableTools returns the tools the backend can execute.
	AvailableTools(ctx context.Context) ([]types.ToolDefinition, error)

	// Invoke runs the named tool. A Go error reports a transport failure or
	// an unknown tool; application failures come back as Invocation.Failed.
	Invoke(ctx context.Context, name string, args map[string]any) (Invocation, error)
}

// SelectBackend returns the MCP backend when useMCP is set and the local
// registry backend otherwise.
func SelectBackend(useMCP bool, host mcp.Host, registry *functions.Registry) (ToolBackend, error) {
	if useMCP {
		if host == nil {
			return nil, fmt.Errorf("conversation: mcp tool backend selected without an mcp host")
		}
		return NewMCPBackend(host), nil
	}
	if registry == nil {
		return nil, fmt.Errorf("conversation: registry tool backend selected without a function registry")
	}
	return NewRegistryBackend(registry), nil
}

// ─── MCP ─────────────────────────────────────────────────────────────────────

// MCPBackend routes tool calls through an [mcp.Host].
type MCPBackend struct {
	host mcp.Host
}

var _ ToolBackend = (*MCPBackend)(nil)

// NewMCPBackend wraps host.
func NewMCPBackend(host mcp.Host) *MCPBackend {
	return &MCPBackend{host: host}
}

// Source implements [ToolBackend].
func (b *MCPBackend) Source() types.ToolSource { return types.SourceMCP }

// AvailableTools implements [ToolBackend].
func (b *MCPBackend) AvailableTools(ctx context.Context) ([]types.ToolDefinition, error) {
	return b.host.AvailableTools(ctx)
}

// Invoke implements [ToolBackend].
func (b *MCPBackend) Invoke(ctx context.Context, name string, args map[string]any) (Invocation, error) {
	res, err := b.host.ExecuteTool(ctx, name, args)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{
		Failed:      res.IsError,
		Text:        res.Content,
		Data:        res.Data,
		UIComponent: res.UIComponent,
	}, nil
}

// ─── Local registry ──────────────────────────────────────────────────────────

// RegistryBackend executes tools in-process through a [functions.Registry].
type RegistryBackend struct {
	registry *functions.Registry
}

var _ ToolBackend = (*RegistryBackend)(nil)

// NewRegistryBackend wraps registry.
func NewRegistryBackend(registry *functions.Registry) *RegistryBackend {
	return &RegistryBackend{registry: registry}
}

// Source implements [ToolBackend].
func (b *RegistryBackend) Source() types.ToolSource { return types.SourceRegistry }

// AvailableTools implements [ToolBackend].
func (b *RegistryBackend) AvailableTools(context.Context) ([]types.ToolDefinition, error) {
	return b.registry.Definitions(), nil
}

// Invoke implements [ToolBackend].
func (b *RegistryBackend) Invoke(ctx context.Context, name string, args map[string]any) (Invocation, error) {
	res, err := b.registry.Execute(ctx, name, args)
	if msg, ok := functions.AsFailure(err); ok {
		return Invocation{Failed: true, Text: msg}, nil
	}
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{
		Text:        res.Text,
		Data:        res.Data,
		UIComponent: res.UIComponent,
	}, nil
}
