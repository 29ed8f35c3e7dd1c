// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic
// Claude, or a local Ollama instance) and exposes a uniform interface for the
// conversation pipeline to perform completions and inspect model capabilities
// without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/colloquy/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. Providers drop
	// [types.RoleFunction] messages before sending.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model. When empty, no
	// tool-definition array and no tool-choice directive are sent.
	Tools []types.ToolDefinition

	// Temperature controls output randomness. Nil means provider default.
	Temperature *float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction prepended as a "system" message.
	SystemPrompt string
}

// CompletionResponse is returned by [Provider.Complete].
type CompletionResponse struct {
	// Content is the text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls or returned no content at all.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []types.ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations perform exactly one upstream attempt per call; retry and
// failover policy belongs to the caller (see the resilience package).
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails, the response cannot be parsed, or
	// ctx is cancelled before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports.
	Capabilities() types.ModelCapabilities
}

// MapRole maps a conversation role onto the three roles chat backends accept.
// Unrecognised roles fall back to "user". The second return value is false for
// [types.RoleFunction], which callers must drop from the outbound request.
func MapRole(r types.Role) (string, bool) {
	switch r {
	case types.RoleFunction:
		return "", false
	case types.RoleAssistant:
		return "assistant", true
	case types.RoleSystem:
		return "system", true
	default:
		return "user", true
	}
}
