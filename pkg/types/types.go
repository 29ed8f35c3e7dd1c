// Package types defines the shared types used across all Colloquy packages.
//
// These types are the common vocabulary between LLM providers, tool
// registries, the conversation pipeline, and the persistence layer. Each
// package defines its own domain types; cross-cutting data structures live here
// to avoid circular imports.
package types

// Role identifies the author of a [Message] in a conversation history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleFunction marks tool output recorded in the history. Function-role
	// messages are kept for the client's benefit but never sent to the model.
	RoleFunction Role = "function"
)

// IsValid reports whether r is one of the recognised roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleFunction:
		return true
	}
	return false
}

// Message represents a single message in a conversation history. Messages are
// treated as immutable once constructed.
type Message struct {
	// Role is the author of the message.
	Role Role

	// Content is the text content of the message.
	Content string
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call. May be empty.
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the raw JSON-encoded arguments string exactly as produced by
	// the model. It may be empty or malformed.
	Arguments string
}

// ToolSource names the provider family a tool comes from.
type ToolSource string

const (
	// SourceMCP marks tools served by a remote Model Context Protocol server.
	SourceMCP ToolSource = "mcp"

	// SourceRegistry marks tools served by the local business-function registry.
	SourceRegistry ToolSource = "registry"
)

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string `json:"name"`

	// Description explains what the tool does (included in LLM prompts).
	Description string `json:"description"`

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any `json:"parameters"`

	// Source is the provider family that serves this tool.
	Source ToolSource `json:"source"`
}

// UIComponent is a tagged payload produced by a successful tool call, meant
// for client-side rendering alongside the plain-text reply.
type UIComponent struct {
	// Type is the component tag, e.g. "entity-detail".
	Type string `json:"componentType"`

	// Payload is the structured data the component renders.
	Payload map[string]any `json:"payload"`
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool
}
